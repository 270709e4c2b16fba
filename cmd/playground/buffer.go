package main

import (
	"fmt"
	"strings"
)

// sourceBuffer is the REPL's editor contents. Each entered line is
// appended; the whole buffer is what gets run.
type sourceBuffer struct {
	lines []string
}

func newSourceBuffer(initial string) *sourceBuffer {
	b := &sourceBuffer{}
	b.set(initial)
	return b
}

func (b *sourceBuffer) add(line string) {
	b.lines = append(b.lines, line)
}

// set replaces the contents with text.
func (b *sourceBuffer) set(text string) {
	b.lines = nil
	if text == "" {
		return
	}
	b.lines = strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func (b *sourceBuffer) clear() { b.lines = nil }

// undo drops the last line and reports whether there was one.
func (b *sourceBuffer) undo() bool {
	if len(b.lines) == 0 {
		return false
	}
	b.lines = b.lines[:len(b.lines)-1]
	return true
}

func (b *sourceBuffer) len() int { return len(b.lines) }

func (b *sourceBuffer) String() string {
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

// numbered renders the buffer with line numbers for /show.
func (b *sourceBuffer) numbered() string {
	if len(b.lines) == 0 {
		return "(empty)\n"
	}
	var sb strings.Builder
	width := len(fmt.Sprint(len(b.lines)))
	for i, line := range b.lines {
		fmt.Fprintf(&sb, "%*d │ %s\n", width, i+1, line)
	}
	return sb.String()
}
