package client

import (
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// Subscription delivers every future payload of one event. Payloads queue
// without bound until read, so a slow reader never blocks the connection.
type Subscription struct {
	Event string

	mu     sync.Mutex
	queue  [][]byte
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	out    chan []byte
	once   sync.Once
	detach func(*Subscription)
}

func newSubscription(event string, detach func(*Subscription)) *Subscription {
	s := &Subscription{
		Event:  event,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan []byte),
		detach: detach,
	}
	go s.run()
	return s
}

// C yields raw JSON payloads. It is closed once the subscription ends.
func (s *Subscription) C() <-chan []byte { return s.out }

// Close stops delivery to this subscriber only.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.stop)
		if s.detach != nil {
			s.detach(s)
		}
	})
}

func (s *Subscription) push(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, data)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	data := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return data, true
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		data, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		select {
		case s.out <- data:
		case <-s.stop:
			return
		}
	}
}

// Typed decodes each payload of a Subscription into T. Payloads that do not
// decode are logged and skipped.
type Typed[T any] struct {
	sub *Subscription
	out chan T
}

// ListenAs subscribes to event and decodes its payloads into T.
func ListenAs[T any](c *Client, event string) (*Typed[T], error) {
	sub, err := c.Listen(event)
	if err != nil {
		return nil, err
	}
	t := &Typed[T]{sub: sub, out: make(chan T)}
	go t.run(c.log)
	return t, nil
}

func (t *Typed[T]) C() <-chan T { return t.out }

func (t *Typed[T]) Close() { t.sub.Close() }

func (t *Typed[T]) run(logger *log.Logger) {
	defer close(t.out)
	for data := range t.sub.C() {
		var v T
		if err := sonic.Unmarshal(data, &v); err != nil {
			logger.WithError(err).WithField("event", t.sub.Event).Warn("dropping undecodable payload")
			continue
		}
		select {
		case t.out <- v:
		case <-t.sub.stop:
			return
		}
	}
}
