package status

import (
	"fmt"
	"io"
	"sync"

	"github.com/morikuni/aec"
)

// Line maintains a single rewritable status line at the bottom of the
// output. Permanent output is written above it via Println.
type Line struct {
	mu     sync.Mutex
	output io.Writer
	active bool
}

func NewLine(w io.Writer) *Line {
	return &Line{output: w}
}

var erase = aec.EmptyBuilder.Column(0).EraseLine(aec.EraseModes.All).ANSI.String()

// Set replaces the status line with msg. The line is not newline
// terminated so the next Set overwrites it in place.
func (l *Line) Set(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.output, "%s"+format, append([]interface{}{erase}, args...)...)
	l.active = true
}

// Println writes a permanent line, pushing the status line down.
func (l *Line) Println(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		fmt.Fprint(l.output, erase)
	}

	fmt.Fprintf(l.output, format+"\n", args...)

	l.active = false
}

// Clear removes the status line entirely.
func (l *Line) Clear() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		fmt.Fprint(l.output, erase)
		l.active = false
	}
}
