package notify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Permission mirrors the host's permission to raise system-level alerts.
type Permission int

const (
	// PermissionDefault means the user has not been asked yet.
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// Alerter surfaces a notification outside the log.
type Alerter interface {
	Permission() Permission
	Alert(title, body string)
}

// WriterAlerter prints alerts to a terminal.
type WriterAlerter struct {
	mu   sync.Mutex
	w    io.Writer
	perm Permission
}

// NewWriterAlerter returns an alerter writing to w.
func NewWriterAlerter(w io.Writer, perm Permission) *WriterAlerter {
	return &WriterAlerter{w: w, perm: perm}
}

// Permission implements Alerter.
func (a *WriterAlerter) Permission() Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perm
}

// SetPermission records the user's answer.
func (a *WriterAlerter) SetPermission(p Permission) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perm = p
}

// Alert implements Alerter.
func (a *WriterAlerter) Alert(title, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.w, "\n\a[%s] %s\n", title, body)
}

// LogAlerter records alerts in the log. It always has permission.
type LogAlerter struct {
	Log *zap.Logger
}

// Permission implements Alerter.
func (LogAlerter) Permission() Permission { return PermissionGranted }

// Alert implements Alerter.
func (a LogAlerter) Alert(title, body string) {
	a.Log.Info("notification", zap.String("title", title), zap.String("body", body))
}

type nopAlerter struct{}

func (nopAlerter) Permission() Permission { return PermissionDenied }
func (nopAlerter) Alert(string, string)   {}
