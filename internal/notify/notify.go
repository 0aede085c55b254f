// Package notify holds user-visible feedback: transient, dismissible notices
// and the single persistent error slot shown while the session is idle.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a notice.
type Level string

// Notice levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one transient message.
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// EventKind distinguishes [Event] values.
type EventKind string

// Event kinds.
const (
	EventPosted    EventKind = "notice_posted"
	EventDismissed EventKind = "notice_dismissed"
	EventError     EventKind = "error_changed"
)

// Event reports a change to the [Center].
type Event struct {
	Kind   EventKind `json:"kind"`
	Notice *Notice   `json:"notice,omitempty"`

	// Error is the error slot after an EventError.
	Error string `json:"error,omitempty"`
}

// Center stores notices and the error slot. Safe for concurrent use.
type Center struct {
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu       sync.Mutex
	notices  []Notice
	errSlot  string
	subs     map[int]func(Event)
	nextSub  int
	timers   map[string]*time.Timer
}

// Option configures a [Center].
type Option func(*Center)

// WithTTL dismisses every notice automatically after d. Zero keeps notices
// until dismissed.
func WithTTL(d time.Duration) Option {
	return func(c *Center) { c.ttl = d }
}

// WithLimit caps the number of retained notices; the oldest is dropped first.
// Default 50.
func WithLimit(n int) Option {
	return func(c *Center) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Center) { c.now = now }
}

// NewCenter returns an empty Center.
func NewCenter(opts ...Option) *Center {
	c := &Center{
		limit:  50,
		now:    time.Now,
		subs:   make(map[int]func(Event)),
		timers: make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Post adds a notice and returns it.
func (c *Center) Post(level Level, msg string) Notice {
	n := Notice{ID: uuid.NewString(), Level: level, Message: msg, CreatedAt: c.now()}

	c.mu.Lock()
	c.notices = append(c.notices, n)
	var dropped []Notice
	if over := len(c.notices) - c.limit; over > 0 {
		dropped = append(dropped, c.notices[:over]...)
		c.notices = append([]Notice(nil), c.notices[over:]...)
	}
	for _, d := range dropped {
		if t, ok := c.timers[d.ID]; ok {
			t.Stop()
			delete(c.timers, d.ID)
		}
	}
	if c.ttl > 0 {
		id := n.ID
		c.timers[id] = time.AfterFunc(c.ttl, func() { c.Dismiss(id) })
	}
	subs := c.subscribers()
	c.mu.Unlock()

	slog.Debug("notice posted", "level", level, "message", msg)
	emit(subs, Event{Kind: EventPosted, Notice: &n})
	for i := range dropped {
		emit(subs, Event{Kind: EventDismissed, Notice: &dropped[i]})
	}
	return n
}

// Info posts an informational notice.
func (c *Center) Info(msg string) Notice { return c.Post(LevelInfo, msg) }

// Warn posts a warning notice.
func (c *Center) Warn(msg string) Notice { return c.Post(LevelWarning, msg) }

// Dismiss removes the notice with id. It reports whether it existed.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	idx := -1
	for i, n := range c.notices {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	n := c.notices[idx]
	c.notices = append(c.notices[:idx], c.notices[idx+1:]...)
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	subs := c.subscribers()
	c.mu.Unlock()

	emit(subs, Event{Kind: EventDismissed, Notice: &n})
	return true
}

// Notices returns the current notices, oldest first.
func (c *Center) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// SetError fills the persistent error slot and also posts an error notice.
func (c *Center) SetError(msg string) {
	c.mu.Lock()
	c.errSlot = msg
	subs := c.subscribers()
	c.mu.Unlock()

	emit(subs, Event{Kind: EventError, Error: msg})
	c.Post(LevelError, msg)
}

// ClearError empties the error slot.
func (c *Center) ClearError() {
	c.mu.Lock()
	if c.errSlot == "" {
		c.mu.Unlock()
		return
	}
	c.errSlot = ""
	subs := c.subscribers()
	c.mu.Unlock()

	emit(subs, Event{Kind: EventError})
}

// Error returns the persistent error message, empty when none.
func (c *Center) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errSlot
}

// Subscribe registers fn for every future event. fn runs on the goroutine
// that caused the change and must not block.
func (c *Center) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Close stops all pending auto-dismiss timers.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// subscribers must be called with c.mu held.
func (c *Center) subscribers() []func(Event) {
	out := make([]func(Event), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
