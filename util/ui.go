// Package util holds small cross-cutting helpers shared by the rest of the
// tree: a colourized UI sink, a mutex-guarded writer, and container-name
// sanitization.
package util

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// UI is a colourized, thread-safe sink for human-facing output, adapted
// from the teacher's termui.UI-typed field on Compilator.
type UI struct {
	mu  sync.Mutex
	out io.Writer
}

// NewUI wraps out as a UI sink.
func NewUI(out io.Writer) *UI {
	return &UI{out: out}
}

// Printf writes a formatted message.
func (u *UI) Printf(format string, args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, format, args...)
}

// Println writes a line.
func (u *UI) Println(args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, args...)
}

// Write implements io.Writer so a UI can be handed to code that wants a
// plain writer (e.g. log.WriteTo(ui)).
func (u *UI) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.out.Write(p)
}

// Success prints a green-colored line.
func (u *UI) Success(format string, args ...interface{}) {
	u.Printf(color.GreenString(format, args...) + "\n")
}

// Warnf prints a yellow-colored line and satisfies job.Warner.
func (u *UI) Warnf(format string, args ...interface{}) {
	u.Printf(color.YellowString(format, args...) + "\n")
}

// Error prints a red-colored line.
func (u *UI) Error(format string, args ...interface{}) {
	u.Printf(color.RedString(format, args...) + "\n")
}
