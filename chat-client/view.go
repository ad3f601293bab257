package main

import (
	"fmt"
	"io"
	"sync"
)

// termView renders the widget on a line-oriented terminal. Submit and Run
// call it from different goroutines.
type termView struct {
	mu       sync.Mutex
	out      io.Writer
	chatting bool
}

func newTermView(out io.Writer) *termView {
	return &termView{out: out}
}

func (v *termView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func (v *termView) Notify(msg string) { v.printf("* %s\n", msg) }

func (v *termView) Alert(msg string) { v.printf("! %s\n", msg) }

func (v *termView) HideCredentials() {}

func (v *termView) ShowChat() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.chatting {
		return
	}
	v.chatting = true
	fmt.Fprintln(v.out, "--- chat ---")
}

// The typed line is already consumed by the scanner.
func (v *termView) ClearInput() {}

func (v *termView) AppendLine(line string) { v.printf("%s\n", line) }

// A terminal always shows the newest line.
func (v *termView) ScrollToBottom() {}
