// Package notify queues toast-style notifications for visitors. The site polls
// and renders them; nothing here blocks the operation that raised them.
package notify

import (
	"context"
	"sync"
	"time"
)

// Level categorises a notification and decides how long it stays visible.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

const (
	defaultDismiss      = 5 * time.Second
	infoDismiss         = 7 * time.Second
	confirmationDismiss = 3 * time.Second

	maxPerVisitor = 20
)

// DismissAfter returns the auto-dismiss duration for a level. Info stays longest.
func DismissAfter(level Level) time.Duration {
	if level == LevelInfo {
		return infoDismiss
	}
	return defaultDismiss
}

// Notification is a single toast.
type Notification struct {
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	Dismiss   time.Duration `json:"-"`
	DismissMS int64         `json:"dismiss_ms"`
	// Delay postpones display, used for follow-up tips after a warning.
	DelayMS int64 `json:"delay_ms,omitempty"`
}

func newNotification(level Level, msg string) Notification {
	d := DismissAfter(level)
	return Notification{Level: level, Message: msg, Dismiss: d, DismissMS: d.Milliseconds()}
}

func Success(msg string) Notification { return newNotification(LevelSuccess, msg) }
func Warning(msg string) Notification { return newNotification(LevelWarning, msg) }
func Error(msg string) Notification   { return newNotification(LevelError, msg) }
func Info(msg string) Notification    { return newNotification(LevelInfo, msg) }

// Confirmation is the short-lived success toast shown after saving preferences.
func Confirmation(msg string) Notification {
	n := newNotification(LevelSuccess, msg)
	n.Dismiss = confirmationDismiss
	n.DismissMS = confirmationDismiss.Milliseconds()
	return n
}

// After returns n scheduled to appear after d.
func (n Notification) After(d time.Duration) Notification {
	n.DelayMS = d.Milliseconds()
	return n
}

// Notifier delivers notifications to a visitor.
type Notifier interface {
	Notify(ctx context.Context, visitor string, n Notification)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, string, Notification) {}

// Queue buffers notifications per visitor until drained. Each visitor keeps at most
// the newest 20; older ones are dropped.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Notification
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]Notification)}
}

func (q *Queue) Notify(_ context.Context, visitor string, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := append(q.pending[visitor], n)
	if len(list) > maxPerVisitor {
		list = list[len(list)-maxPerVisitor:]
	}
	q.pending[visitor] = list
}

// Drain returns and clears the visitor's pending notifications in arrival order.
func (q *Queue) Drain(visitor string) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.pending[visitor]
	delete(q.pending, visitor)
	return list
}
