package idgen

import "github.com/rs/xid"

// Generator creates globally unique, sortable identifiers.
type Generator struct {
	Prefix string
}

// NewID returns a new xid, prefixed when Prefix is set.
func (g Generator) NewID() string {
	id := xid.New().String()
	if g.Prefix == "" {
		return id
	}
	return g.Prefix + "-" + id
}
