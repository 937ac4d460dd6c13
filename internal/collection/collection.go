// Package collection stores user-curated URI lists as .fuo files.
//
// A file optionally starts with a TOML header between two "+++" lines,
// followed by one URI per line. A line may carry a display suffix after
// "\t#". Comment and blank lines are ignored. New entries go first.
package collection

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/feeluown/fuocore/internal/library"
)

// Ext is the collection file extension.
const Ext = ".fuo"

const delim = "+++"

// Header is the optional TOML front matter.
type Header struct {
	Title       string    `toml:"title,omitempty"`
	Description string    `toml:"description,omitempty"`
	Created     time.Time `toml:"created"`
	Updated     time.Time `toml:"updated"`
}

// Entry is one collection line.
type Entry struct {
	URI     library.URI
	Display string
}

// Line formats the entry as stored on disk.
func (e Entry) Line() string {
	if e.Display == "" {
		return e.URI.String()
	}
	return e.URI.String() + "\t# " + e.Display
}

// Collection is a loaded .fuo file.
type Collection struct {
	Name    string
	Path    string
	Header  Header
	Entries []Entry
	// Skipped counts lines that are not valid URIs.
	Skipped int

	hasHeader bool
	fs        afero.Fs
	now       func() time.Time
}

// Title returns the header title, falling back to the file name.
func (c *Collection) Title() string {
	if c.Header.Title != "" {
		return c.Header.Title
	}
	return c.Name
}

// Load reads the collection at p.
func Load(fs afero.Fs, p string, now func() time.Time) (*Collection, error) {
	data, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		Name: strings.TrimSuffix(path.Base(p), Ext),
		Path: p,
		fs:   fs,
		now:  now,
	}
	if err := c.parse(data); err != nil {
		return nil, fmt.Errorf("collection %s: %w", p, err)
	}
	return c, nil
}

func (c *Collection) parse(data []byte) error {
	body := string(data)
	if rest, ok := strings.CutPrefix(body, delim+"\n"); ok {
		header, after, found := strings.Cut(rest, "\n"+delim+"\n")
		if tail, ok := strings.CutPrefix(rest, delim+"\n"); ok {
			header, after, found = "", tail, true
		}
		if !found {
			header, found = strings.CutSuffix(rest, "\n"+delim)
			after = ""
		}
		if found {
			if _, err := toml.Decode(header, &c.Header); err != nil {
				return err
			}
			c.hasHeader = true
			body = after
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, display, _ := strings.Cut(line, "\t#")
		uri, err := library.ParseURI(strings.TrimSpace(raw))
		if err != nil {
			c.Skipped++
			continue
		}
		c.Entries = append(c.Entries, Entry{URI: uri, Display: strings.TrimSpace(display)})
	}
	return scanner.Err()
}

// Contains reports whether uri is in the collection.
func (c *Collection) Contains(uri library.URI) bool {
	return c.index(uri) >= 0
}

func (c *Collection) index(uri library.URI) int {
	for i, e := range c.Entries {
		if e.URI == uri {
			return i
		}
	}
	return -1
}

// Add prepends an entry unless its URI is present. It reports whether the
// file changed.
func (c *Collection) Add(e Entry) (bool, error) {
	if c.Contains(e.URI) {
		return false, nil
	}
	c.Entries = append([]Entry{e}, c.Entries...)
	return true, c.save()
}

// Remove drops uri. It reports whether the file changed.
func (c *Collection) Remove(uri library.URI) (bool, error) {
	i := c.index(uri)
	if i < 0 {
		return false, nil
	}
	c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
	return true, c.save()
}

// Encode renders the collection file.
func (c *Collection) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if c.hasHeader {
		buf.WriteString(delim + "\n")
		if err := toml.NewEncoder(&buf).Encode(c.Header); err != nil {
			return nil, err
		}
		if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.WriteString(delim + "\n")
	}
	for _, e := range c.Entries {
		buf.WriteString(e.Line())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (c *Collection) save() error {
	if c.hasHeader && c.now != nil {
		c.Header.Updated = c.now().UTC().Truncate(time.Second)
	}
	data, err := c.Encode()
	if err != nil {
		return err
	}
	return afero.WriteFile(c.fs, c.Path, data, 0o644)
}
