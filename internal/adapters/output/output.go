// Package output renders CLI results.
package output

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// Printer renders output to stdout.
type Printer interface {
	Print(v any) error
}

// New returns the JSON printer when jsonOut is set.
func New(w io.Writer, jsonOut bool) Printer {
	if jsonOut {
		return JSONPrinter{Out: w}
	}
	return HumanPrinter{Out: w}
}

// Error prints err to w in the style of the human printer.
func Error(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, pterm.Error.Sprint(err.Error()))
}
