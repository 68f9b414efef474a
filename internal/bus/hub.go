// Package bus provides a small typed broadcast hub. One hub carries one
// kind of value (connection state, quotes, sync status, ...) and fans it
// out to every subscriber. The last published value is cached and
// replayed to late subscribers so they never start blind.
package bus

import "sync"

// Hub fans values out to subscriber channels. Publish never blocks: a
// subscriber that falls behind loses its oldest buffered value, not the
// publisher's time.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	buffer  int
	last    T
	hasLast bool
}

// NewHub creates a hub whose subscriber channels buffer up to size
// values. Size is clamped to at least 1 so the cached value can always
// be replayed.
func NewHub[T any](size int) *Hub[T] {
	if size < 1 {
		size = 1
	}
	return &Hub[T]{subs: make(map[int]chan T), buffer: size}
}

// Subscribe registers a new channel and returns it together with a
// cancel function. If a value was ever published, it is delivered to the
// new subscriber immediately.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	if h.hasLast {
		ch <- h.last
	}
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish caches v and delivers it to every subscriber, dropping the
// oldest buffered value of any subscriber whose channel is full.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = v
	h.hasLast = true
	for _, ch := range h.subs {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Last returns the cached value, if any was ever published.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Len reports the current subscriber count.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
