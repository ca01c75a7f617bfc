package homeconnect

import "sync"

// Named events. Appliance-level subscriptions may also use any catalog key.
const (
	EventConnectionChanged = "CONNECTION_CHANGED"
	EventDataChanged       = "DATA_CHANGED"
	EventProgramSelected   = "PROGRAM_SELECTED"
	EventProgramStarted    = "PROGRAM_STARTED"
	EventProgramFinished   = "PROGRAM_FINISHED"
	EventPaired            = "PAIRED"
	EventDepaired          = "DEPAIRED"
	EventStatusChanged     = "STATUS_CHANGED"
)

// UpdateHandler receives appliance-level notifications
type UpdateHandler func(appliance *Appliance, key string, value any)

// ApplianceHandler receives service-level notifications about an appliance.
// appliance is nil for STATUS_CHANGED.
type ApplianceHandler func(appliance *Appliance)

// Subscription represents an active event subscription
type Subscription interface {
	Unsubscribe()
}

type callbackEntry[H any] struct {
	subID   int
	handler H
}

// callbackRegistry maps event names to handlers. Each add gets its own id so
// the same function can be subscribed and removed independently.
type callbackRegistry[H any] struct {
	mu        sync.RWMutex
	byEvent   map[string][]callbackEntry[H]
	nextSubID int
}

func newCallbackRegistry[H any]() *callbackRegistry[H] {
	return &callbackRegistry[H]{byEvent: make(map[string][]callbackEntry[H])}
}

func (r *callbackRegistry[H]) add(handler H, events []string) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subID := r.nextSubID
	r.nextSubID++

	seen := make(map[string]struct{}, len(events))
	keys := make([]string, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev]; dup || ev == "" {
			continue
		}
		seen[ev] = struct{}{}
		keys = append(keys, ev)
		r.byEvent[ev] = append(r.byEvent[ev], callbackEntry[H]{subID: subID, handler: handler})
	}

	return &registrySubscription[H]{registry: r, subID: subID, events: keys}
}

func (r *callbackRegistry[H]) remove(subID int, events []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range events {
		entries := r.byEvent[ev]
		for i, entry := range entries {
			if entry.subID == subID {
				r.byEvent[ev] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(r.byEvent[ev]) == 0 {
			delete(r.byEvent, ev)
		}
	}
}

// handlers returns a copy so callers can invoke them without holding the lock
func (r *callbackRegistry[H]) handlers(event string) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byEvent[event]
	result := make([]H, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.handler)
	}
	return result
}

func (r *callbackRegistry[H]) count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[event])
}

type registrySubscription[H any] struct {
	registry *callbackRegistry[H]
	subID    int
	events   []string
	once     sync.Once
}

func (s *registrySubscription[H]) Unsubscribe() {
	s.once.Do(func() {
		s.registry.remove(s.subID, s.events)
	})
}
