package adapter

import (
	"sync"
	"time"
)

// EventKind classifies adapter notifications.
type EventKind int

const (
	// EventHit fires when a cacheable command is served from the cache.
	EventHit EventKind = iota
	// EventMiss fires when a cacheable command fell through to the executor
	// and its result was stored.
	EventMiss
	// EventInvalidated fires after a mutating command triggered table
	// invalidation.
	EventInvalidated
)

func (k EventKind) String() string {
	switch k {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Event carries the details of one adapter notification. Key, SQL, and
// Duration are set for hits and misses; Tables and Command for
// invalidations.
type Event struct {
	Kind     EventKind
	Key      string
	SQL      string
	Duration time.Duration
	Tables   []string
	Command  string
}

// Handler receives events. Handlers run synchronously on the calling
// goroutine; slow handlers delay the caller.
type Handler func(Event)

type subscribers struct {
	mutex    sync.RWMutex
	nextID   int
	handlers map[EventKind]map[int]Handler
}

func (s *subscribers) subscribe(kind EventKind, h Handler) func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[EventKind]map[int]Handler)
	}
	if s.handlers[kind] == nil {
		s.handlers[kind] = make(map[int]Handler)
	}
	s.nextID++
	id := s.nextID
	s.handlers[kind][id] = h
	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.handlers[kind], id)
	}
}

func (s *subscribers) emit(e Event) {
	s.mutex.RLock()
	handlers := make([]Handler, 0, len(s.handlers[e.Kind]))
	for _, h := range s.handlers[e.Kind] {
		handlers = append(handlers, h)
	}
	s.mutex.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

// Subscribe registers a handler for one event kind and returns a function
// that removes it.
func (a *Adapter) Subscribe(kind EventKind, h Handler) func() {
	return a.subs.subscribe(kind, h)
}
