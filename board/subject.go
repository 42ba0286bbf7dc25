// Package board keeps the client-side state of one open board and composes
// it into render-ready snapshots.
package board

import "sync"

// Subject holds the latest value of a stream and calls observers
// synchronously on every change. New observers get the current value first.
type Subject[T any] struct {
	mu        sync.Mutex
	value     T
	has       bool
	nextID    int
	observers map[int]func(T)
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{observers: map[int]func(T){}}
}

// Next stores v and notifies every observer before returning.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	s.value, s.has = v, true
	observers := make([]func(T), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()
	for _, fn := range observers {
		fn(v)
	}
}

// Value returns the latest value and whether one was ever emitted.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Subscribe registers fn and returns a function that removes it.
func (s *Subject[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	v, has := s.value, s.has
	s.mu.Unlock()
	if has {
		fn(v)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}
