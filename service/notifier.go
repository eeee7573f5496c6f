package service

import (
	"sort"
	"sync"
	"time"
)

// Notification levels
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is one user-visible message, typically a persistence
// failure that must surface without crashing in-memory state.
type Notification struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier fans notifications out to registered listeners. Listeners are
// invoked synchronously in registration order.
type Notifier struct {
	mu      sync.Mutex
	subs    map[int]func(Notification)
	nextSub int
	recent  []Notification
	keep    int
}

// NewNotifier creates a notifier that retains the most recent keep
// notifications for late subscribers to query. keep <= 0 disables
// retention.
func NewNotifier(keep int) *Notifier {
	return &Notifier{
		subs: make(map[int]func(Notification)),
		keep: keep,
	}
}

// Subscribe registers a listener and returns its unsubscribe handle.
func (n *Notifier) Subscribe(fn func(Notification)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Notify publishes one notification.
func (n *Notifier) Notify(level, message string) {
	note := Notification{Level: level, Message: message, Time: time.Now().UTC()}

	n.mu.Lock()
	if n.keep > 0 {
		n.recent = append(n.recent, note)
		if len(n.recent) > n.keep {
			n.recent = n.recent[len(n.recent)-n.keep:]
		}
	}
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Notification), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(note)
	}
}

// Recent returns a copy of the retained notifications, oldest first.
func (n *Notifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.recent))
	copy(out, n.recent)
	return out
}
