package main

import (
	"io"
	"strings"

	"github.com/michaelbrown/playground/internal/playground"
)

// logPrinter mirrors an OutputLog onto a terminal. Terminals cannot
// clear text, so a reset just prints the new content.
type logPrinter struct {
	w     io.Writer
	shown strings.Builder
}

func newLogPrinter(w io.Writer) *logPrinter {
	return &logPrinter{w: w}
}

func (p *logPrinter) handle(ev playground.Event) {
	switch ev.Type {
	case playground.EventReset:
		p.shown.Reset()
		p.write(ev.Text)
	case playground.EventAppend:
		p.write(ev.Text)
	}
}

func (p *logPrinter) write(text string) {
	p.shown.WriteString(text)
	io.WriteString(p.w, text)
}

// sync prints whatever part of final has not been shown yet, covering
// events a lagging subscription never delivered.
func (p *logPrinter) sync(final string) {
	shown := p.shown.String()
	switch {
	case final == shown:
	case strings.HasPrefix(final, shown):
		p.write(final[len(shown):])
	default:
		p.shown.Reset()
		p.write(final)
	}
	if final != "" && !strings.HasSuffix(final, "\n") {
		io.WriteString(p.w, "\n")
	}
}
