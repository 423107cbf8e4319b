// Package live provides an in-process pub/sub feed used by the session and
// market-data owners to tell readers that their state changed.
package live

import "sync"

// Feed fans events out to subscribers. Sends never block: a subscriber whose
// buffer is full misses the event and is expected to re-read the owner's
// snapshot on the next one it receives.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
}

// NewFeed creates an empty feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T)}
}

// Subscribe creates a new subscription channel with the given buffer size.
func (f *Feed[T]) Subscribe(bufSize int) (id int, ch <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id = f.nextID
	f.nextID++
	c := make(chan T, bufSize)
	f.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (f *Feed[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// Publish delivers evt to every subscriber with room in its buffer.
func (f *Feed[T]) Publish(evt T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
}

// Close unsubscribes everyone.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

// Len returns the number of active subscriptions.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
