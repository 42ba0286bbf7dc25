package board

import (
	"sync"
	"sync/atomic"

	"prism-board/client"
)

type closer interface{ Close() }

// Scope owns the realtime subscriptions of one board view. Once closed, no
// further payload reaches a handler registered through it.
type Scope struct {
	closed  atomic.Bool
	mu      sync.Mutex
	closers []closer
	wg      sync.WaitGroup
	// gate is held for reading while a handler runs.
	gate sync.RWMutex
}

func NewScope() *Scope { return &Scope{} }

// Add ties c to the scope. Adding to a closed scope closes c immediately.
func (s *Scope) Add(c closer) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

func (s *Scope) Closed() bool { return s.closed.Load() }

// Close releases every subscription and waits for handlers that are already
// running, so no handler starts or runs once Close returns. It must not be
// called from inside a handler or a store observer.
func (s *Scope) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
	s.gate.Lock()
	s.gate.Unlock()
}

// Wait blocks until every listener goroutine of the scope has returned.
func (s *Scope) Wait() { s.wg.Wait() }

// Listen subscribes to event on c and calls fn for each decoded payload
// until the scope is closed.
func Listen[T any](s *Scope, c *client.Client, event string, fn func(T)) error {
	sub, err := client.ListenAs[T](c, event)
	if err != nil {
		return err
	}
	s.Add(sub)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for v := range sub.C() {
			if !s.deliver(func() { fn(v) }) {
				return
			}
		}
	}()
	return nil
}

func (s *Scope) deliver(run func()) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return false
	}
	run()
	return true
}
