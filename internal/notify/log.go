// Package notify keeps the bounded, newest-first notification log shown on
// the dashboard notification surface.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/pricepulse/internal/metrics"
	"github.com/rickgao/pricepulse/internal/model"
)

// DefaultCapacity is the number of notifications retained.
const DefaultCapacity = 20

// Sink receives every appended notification, e.g. an archive writer.
type Sink interface {
	Send(n model.Notification) bool
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithSink forwards appended notifications to s.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is a goroutine-safe notification list, newest first, never longer
// than its capacity.
type Log struct {
	mu       sync.RWMutex
	items    []model.Notification
	capacity int

	sink   Sink
	now    func() time.Time
	logger *slog.Logger

	subMu  sync.Mutex
	subs   map[int]chan model.Notification
	nextID int
}

// NewLog creates an empty log.
func NewLog(logger *slog.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   logger,
		subs:     make(map[int]chan model.Notification),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.items = make([]model.Notification, 0, l.capacity)
	return l
}

// Append records a new unread notification at the head of the log and
// evicts the oldest entries beyond capacity.
func (l *Log) Append(kind model.NotificationKind, title, message string) model.Notification {
	n := model.Notification{
		ID:        uuid.New(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: l.now(),
	}

	l.mu.Lock()
	l.items = append(l.items, model.Notification{})
	copy(l.items[1:], l.items)
	l.items[0] = n
	if len(l.items) > l.capacity {
		clear(l.items[l.capacity:])
		l.items = l.items[:l.capacity]
	}
	l.mu.Unlock()

	metrics.IncNotification(string(kind))
	l.logger.Debug("notification appended", "kind", kind, "title", title)

	if l.sink != nil && !l.sink.Send(n) {
		l.logger.Debug("notification sink closed", "id", n.ID)
	}
	l.publish(n)
	return n
}

// MarkAllRead marks every notification read. Calling it again is a no-op.
func (l *Log) MarkAllRead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		l.items[i].Read = true
	}
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.items)
	l.items = l.items[:0]
}

// List returns a copy of the log, newest first.
func (l *Log) List() []model.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Notification, len(l.items))
	copy(out, l.items)
	return out
}

// Unread returns the number of unread notifications.
func (l *Log) Unread() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, item := range l.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Len returns the number of notifications held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Subscribe returns a channel of newly appended notifications and a cancel
// function. Sends are non-blocking; a full subscriber misses entries.
func (l *Log) Subscribe(buffer int) (<-chan model.Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Notification, buffer)

	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

func (l *Log) publish(n model.Notification) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
