// Package notify abstracts user-facing notifications: transient notices
// and blocking alerts.
package notify

import (
	"fmt"
	"io"
	"sync"
)

// Notifier surfaces messages to the user.
type Notifier interface {
	// Notice shows a transient, non-blocking message.
	Notice(message string)
	// Alert shows a titled message for failures the user must see.
	Alert(title, message string)
}

// Terminal writes notifications to a writer, one per line.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal creates a Terminal notifier writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notice(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, message)
}

func (t *Terminal) Alert(title, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s: %s\n", title, message)
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []string
	alerts  []string
}

func (r *Recorder) Notice(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, message)
}

func (r *Recorder) Alert(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, title+": "+message)
}

// Notices returns recorded notices.
func (r *Recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

// Alerts returns recorded alerts.
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}
