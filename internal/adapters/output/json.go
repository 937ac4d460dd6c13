package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/feeluown/fuocore/internal/core"
)

// JSONPrinter prints JSON to stdout.
type JSONPrinter struct {
	Out io.Writer
}

// Print renders JSON output. Results wrapping a single body print the body
// itself.
func (p JSONPrinter) Print(v any) error {
	switch data := v.(type) {
	case core.StatusResult:
		v = data.Status
	case core.MessageResult:
		v = map[string]string{"text": data.Text}
	case core.SongResult:
		v = data.Song
	case core.ModelResult:
		v = data.Model
	case core.ModelListResult:
		v = data.Items
	case core.QueueResult:
		v = data.Items
	case core.SearchResult:
		v = data.Groups
	case core.ProvidersResult:
		v = data.Providers
	case core.CollectionsResult:
		v = data.Collections
	case core.CoverResult:
		v = data.Cover
	}
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}
