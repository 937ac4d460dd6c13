package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/feeluown/fuocore/internal/core"
	"github.com/feeluown/fuocore/pkg/fuo"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

func (p HumanPrinter) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := p.out()
	switch data := v.(type) {
	case core.StatusResult:
		return printStatus(w, data)
	case core.MessageResult:
		return printText(w, data.Text)
	case core.SongResult:
		if data.Song == nil {
			return nil
		}
		return printText(w, formatModel(*data.Song))
	case core.ModelResult:
		return printModel(w, data.Model)
	case core.ModelListResult:
		return printModels(w, data.Items)
	case core.QueueResult:
		return printQueue(w, data)
	case core.SearchResult:
		return printSearch(w, data)
	case core.ProvidersResult:
		return printProviders(w, data)
	case core.CollectionsResult:
		return printCollections(w, data)
	case core.CoverResult:
		return printText(w, fmt.Sprintf("%s\n%s (%d bytes)", data.Cover.URL, data.Cover.Key, data.Cover.Bytes))
	case core.EventResult:
		return printText(w, data.Topic+"\t"+data.Payload)
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

func printText(w io.Writer, text string) error {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func render(w io.Writer, header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func printStatus(w io.Writer, result core.StatusResult) error {
	st := result.Status
	item := st.Title
	if st.Artists != "" && st.Title != "" {
		item = st.Artists + " - " + st.Title
	}
	if item == "" {
		item = st.URI
	}
	line := strings.TrimSpace(fmt.Sprintf("[%s]  %s  %s", stateLabel(st.State), item, formatPosition(st.PositionMS, st.DurationMS)))
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "vol %d%%  mode %s  playlist %d\n", st.Volume, st.Mode, st.PlaylistSize); err != nil {
		return err
	}
	if st.Lyric != "" {
		_, err := fmt.Fprintln(w, pterm.Italic.Sprint(st.Lyric))
		return err
	}
	return nil
}

func stateLabel(state string) string {
	switch state {
	case "playing":
		return pterm.FgGreen.Sprint(state)
	case "paused":
		return pterm.FgYellow.Sprint(state)
	}
	return state
}

func formatModel(m fuo.ModelBody) string {
	title := m.Title
	if len(m.Artists) > 0 {
		title = strings.Join(m.Artists, ", ") + " - " + title
	}
	if m.URI == "" {
		return title
	}
	return title + "  " + pterm.Gray(m.URI)
}

func modelRow(m fuo.ModelBody) []string {
	length := ""
	if m.DurationMS > 0 {
		length = formatMS(m.DurationMS)
	}
	return []string{m.URI, m.Title, strings.Join(m.Artists, ", "), m.Album, length}
}

var modelHeader = []string{"URI", "TITLE", "ARTISTS", "ALBUM", "LEN"}

func printModels(w io.Writer, items []fuo.ModelBody) error {
	rows := make([][]string, len(items))
	for i, m := range items {
		rows[i] = modelRow(m)
	}
	return render(w, modelHeader, rows)
}

func printModel(w io.Writer, m fuo.ModelBody) error {
	field := func(key, value string) error {
		if value == "" {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s %s\n", pterm.Bold.Sprint(key+":"), value)
		return err
	}
	fields := [][2]string{
		{"uri", m.URI},
		{"kind", m.Kind},
		{"title", m.Title},
		{"artists", strings.Join(m.Artists, ", ")},
		{"album", m.Album},
		{"creator", m.Creator},
		{"cover", m.CoverURL},
		{"description", strings.TrimSpace(m.Description)},
	}
	if m.DurationMS > 0 {
		fields = append(fields, [2]string{"duration", formatMS(m.DurationMS)})
	}
	for _, f := range fields {
		if err := field(f[0], f[1]); err != nil {
			return err
		}
	}
	for _, child := range []struct {
		name  string
		items []fuo.ModelBody
	}{{"songs", m.Songs}, {"albums", m.Albums}, {"playlists", m.Playlists}} {
		if len(child.items) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "\n%s\n", pterm.Bold.Sprint(child.name)); err != nil {
			return err
		}
		if err := printModels(w, child.items); err != nil {
			return err
		}
	}
	return nil
}

func printQueue(w io.Writer, result core.QueueResult) error {
	rows := make([][]string, len(result.Items))
	for i, item := range result.Items {
		mark := ""
		if item.Current {
			mark = ">"
		}
		rows[i] = append([]string{mark, fmt.Sprint(i)}, modelRow(item.ModelBody)...)
	}
	return render(w, append([]string{"", "#"}, modelHeader...), rows)
}

func printSearch(w io.Writer, result core.SearchResult) error {
	var rows [][]string
	var failed []fuo.SearchBody
	for _, group := range result.Groups {
		if group.Error != "" {
			failed = append(failed, group)
			continue
		}
		for _, m := range group.Items {
			rows = append(rows, append([]string{group.Provider, m.Kind}, modelRow(m)...))
		}
	}
	if len(rows) == 0 {
		if _, err := fmt.Fprintf(w, "no results for %q\n", result.Keyword); err != nil {
			return err
		}
	} else if err := render(w, append([]string{"SOURCE", "KIND"}, modelHeader...), rows); err != nil {
		return err
	}
	for _, group := range failed {
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", pterm.FgRed.Sprint("!"), group.Provider, group.Error); err != nil {
			return err
		}
	}
	return nil
}

func printProviders(w io.Writer, result core.ProvidersResult) error {
	rows := make([][]string, len(result.Providers))
	for i, p := range result.Providers {
		rows[i] = []string{p.ID, p.Name}
	}
	return render(w, []string{"ID", "NAME"}, rows)
}

func printCollections(w io.Writer, result core.CollectionsResult) error {
	rows := make([][]string, len(result.Collections))
	for i, c := range result.Collections {
		rows[i] = []string{c.Name, c.Title, fmt.Sprint(c.Count)}
	}
	return render(w, []string{"NAME", "TITLE", "SONGS"}, rows)
}

func formatPosition(pos, dur int64) string {
	if pos == 0 && dur == 0 {
		return ""
	}
	if dur > 0 {
		return fmt.Sprintf("%s / %s (%d%%)", formatMS(pos), formatMS(dur), (pos*100)/dur)
	}
	return formatMS(pos)
}

func formatMS(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	secs := ms / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
