// Package notify is the engine's user-facing notification center. Stream
// disconnects, failed patch sends, and dangling-edge evictions surface here
// as dismissible, leveled notifications; nothing in the engine ever throws
// these conditions up into rendering paths.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one user-visible message. Notifications stay until the
// operator dismisses them or the ring buffer evicts them.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Dismissed bool      `json:"dismissed"`
}

// Subscriber receives every published notification.
type Subscriber func(Notification)

// Center holds the most recent notifications in a bounded buffer and fans
// new ones out to subscribers.
type Center struct {
	mu      sync.Mutex
	items   []Notification
	cap     int
	subs    map[int]Subscriber
	nextSub int
	logger  *zap.Logger
}

const DefaultCapacity = 100

func NewCenter(capacity int, logger *zap.Logger) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Center{
		cap:    capacity,
		subs:   make(map[int]Subscriber),
		logger: logger,
	}
}

// Publish records a notification and notifies subscribers. Subscribers run
// outside the lock; a slow subscriber cannot deadlock the publisher.
func (c *Center) Publish(level Level, source, message string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Source:    source,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.items = append(c.items, n)
	if len(c.items) > c.cap {
		c.items = c.items[len(c.items)-c.cap:]
	}
	subs := make([]Subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	switch level {
	case LevelError:
		c.logger.Error(message, zap.String("source", source))
	case LevelWarning:
		c.logger.Warn(message, zap.String("source", source))
	default:
		c.logger.Info(message, zap.String("source", source))
	}

	for _, s := range subs {
		s(n)
	}
	return n
}

// Dismiss marks a notification as dismissed. Returns false if unknown.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Dismissed = true
			return true
		}
	}
	return false
}

// Active returns the undismissed notifications, oldest first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if !n.Dismissed {
			out = append(out, n)
		}
	}
	return out
}

// All returns every retained notification, dismissed ones included.
func (c *Center) All() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Subscribe registers fn for future notifications and returns an
// unsubscribe func.
func (c *Center) Subscribe(fn Subscriber) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
