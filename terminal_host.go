package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// TerminalHost is the monitor's line source. On a TTY it switches stdin to
// raw mode and edits lines with term.Terminal; otherwise it reads plain
// lines so the monitor can be scripted through a pipe.
type TerminalHost struct {
	in     *os.File
	out    io.Writer
	prompt string

	fd           int
	oldTermState *term.State
	term         *term.Terminal
	lines        *bufio.Scanner
}

// NewTerminalHost creates a host reading from in and echoing to out.
func NewTerminalHost(in *os.File, out io.Writer, prompt string) *TerminalHost {
	return &TerminalHost{in: in, out: out, prompt: prompt}
}

// Start enters raw mode when in is a terminal. Call Stop to restore it.
func (h *TerminalHost) Start() error {
	h.fd = int(h.in.Fd())
	if !term.IsTerminal(h.fd) {
		h.lines = bufio.NewScanner(h.in)
		return nil
	}
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		return fmt.Errorf("terminal_host: failed to set raw mode: %w", err)
	}
	h.oldTermState = oldState
	h.term = term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{h.in, h.out}, h.prompt)
	return nil
}

// Output is where command output goes; in raw mode it must pass through the
// line editor so newlines are translated.
func (h *TerminalHost) Output() io.Writer {
	if h.term != nil {
		return h.term
	}
	return h.out
}

// ReadLine returns the next command line, or io.EOF.
func (h *TerminalHost) ReadLine() (string, error) {
	if h.term != nil {
		return h.term.ReadLine()
	}
	fmt.Fprint(h.out, h.prompt)
	if !h.lines.Scan() {
		if err := h.lines.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return h.lines.Text(), nil
}

// Colour reports whether output goes to a terminal.
func (h *TerminalHost) Colour() bool {
	return h.term != nil
}

// Stop restores the terminal state.
func (h *TerminalHost) Stop() {
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
