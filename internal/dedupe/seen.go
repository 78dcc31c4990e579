// ABOUTME: Bounded TTL set of recently seen message IDs
// ABOUTME: Backs push idempotence so a redelivered message is applied only once

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const sweepEvery = time.Minute

// entry records when an ID was seen plus its position in insertion order.
type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Seen is a thread-safe set of message IDs with a TTL and a size cap.
// Pushed messages can arrive more than once (reconnects, retries), so
// consumers ask Seen before applying one. The set keeps insertion order in a
// doubly-linked list for O(1) eviction of the oldest ID when full.
type Seen struct {
	mu      sync.RWMutex
	ids     map[int64]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewSeen creates a seen-set with the given TTL and maximum size. A
// background goroutine sweeps out expired IDs periodically.
func NewSeen(ttl time.Duration, maxSize int) *Seen {
	s := &Seen{
		ids:     make(map[int64]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweeper()
	return s
}

// Observe atomically records an ID and reports whether it was already
// present. True means duplicate: the caller should drop the message. False
// means the ID is new and is now recorded. Either way the observation
// refreshes the ID's TTL and its place in the eviction order.
func (s *Seen) Observe(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ids[id]
	dup := ok && time.Since(e.seenAt) < s.ttl

	s.record(id)
	return dup
}

// Contains reports whether an ID is present and unexpired, without
// recording it.
func (s *Seen) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ids[id]
	return ok && time.Since(e.seenAt) < s.ttl
}

// Len returns the number of tracked IDs, expired ones included until the
// next sweep.
func (s *Seen) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// record adds or refreshes an ID. Must be called with mu held.
func (s *Seen) record(id int64) {
	now := time.Now()

	if e, ok := s.ids[id]; ok {
		e.seenAt = now
		s.order.MoveToBack(e.elem)
		return
	}

	if len(s.ids) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.order.PushBack(id)
	s.ids[id] = &entry{seenAt: now, elem: elem}
}

// evictOldest drops the front of the insertion order. Must be called with
// mu held.
func (s *Seen) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(int64)
	s.order.Remove(front)
	delete(s.ids, id)
}

// sweeper periodically removes expired IDs until Close.
func (s *Seen) sweeper() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes every expired ID.
func (s *Seen) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, e := range s.ids {
		if now.Sub(e.seenAt) > s.ttl {
			s.order.Remove(e.elem)
			delete(s.ids, id)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *Seen) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
