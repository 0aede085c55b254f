package transcript

import (
	"sync"
)

// Log is the ordered, append-only list of transcript entries. Insertion order
// is chronological and display order. Safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	nextSub int
	subs    map[int]func(Entry)
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{subs: make(map[int]func(Entry))}
}

// Append adds e to the end of the log and notifies subscribers in
// registration order. Subscribers run synchronously on the caller's
// goroutine, after the log lock is released.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	subs := make([]func(Entry), 0, len(l.subs))
	for id := 0; id < l.nextSub; id++ {
		if fn, ok := l.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Entries returns a copy of all entries.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Since returns a copy of the entries at index n and later.
func (l *Log) Since(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n >= len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[max(n, 0):]...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe registers fn for every future entry. The returned function
// removes the subscription.
func (l *Log) Subscribe(fn func(Entry)) (cancel func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}
