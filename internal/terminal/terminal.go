// Package terminal renders transcripts on a single rewritable line.
package terminal

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const clearLine = "\r\x1b[2K"

// Terminal is the output handle for the transcription loop. It tracks whether
// a partial line is on screen so clearing is always safe.
type Terminal struct {
	w           io.Writer
	interactive bool
	partial     lipgloss.Style
	rendered    bool
}

// New writes to w, rewriting partial lines in place when w is a terminal.
// On other writers partial results are skipped and only final lines appear.
func New(w io.Writer) *Terminal {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return NewWithMode(w, interactive)
}

func NewWithMode(w io.Writer, interactive bool) *Terminal {
	renderer := lipgloss.NewRenderer(w)
	return &Terminal{
		w:           w,
		interactive: interactive,
		partial:     renderer.NewStyle().Faint(true),
	}
}

// ClearCurrentLine erases the partial line, if one is shown.
func (t *Terminal) ClearCurrentLine() error {
	if !t.rendered {
		return nil
	}
	t.rendered = false
	_, err := io.WriteString(t.w, clearLine)
	return err
}

// WritePartial replaces the current line with text, without a newline.
func (t *Terminal) WritePartial(text string) error {
	if !t.interactive {
		return nil
	}
	if err := t.ClearCurrentLine(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if _, err := fmt.Fprintf(t.w, "\r%s", t.partial.Render(text)); err != nil {
		return err
	}
	t.rendered = true
	return nil
}

// WriteFinal prints text as a permanent line. The next partial starts on a
// fresh line.
func (t *Terminal) WriteFinal(text string) error {
	if err := t.ClearCurrentLine(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(t.w, text)
	return err
}
