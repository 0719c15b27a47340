package shared

import "sync"

// DefaultSubscriberBuffer is the per-subscriber queue depth used when
// Subscribe is called with a non-positive size.
const DefaultSubscriberBuffer = 64

// Broadcaster is a single-producer, multi-consumer fan-out with no replay.
//
// Only subscribers present at Publish time see a value. Each subscriber has
// its own bounded queue; values are delivered in publish order, and a value
// that does not fit into a full queue is dropped for that subscriber only.
// Delivery is therefore at-most-once.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool

	// OnDrop, when set, is called for every value dropped on a full queue.
	OnDrop func(v T)
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe(size int) (<-chan T, func()) {
	if size <= 0 {
		size = DefaultSubscriberBuffer
	}
	ch := make(chan T, size)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every current subscriber without blocking.
// It returns the number of subscribers that accepted the value.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			if b.OnDrop != nil {
				b.OnDrop(v)
			}
		}
	}
	return delivered
}

// Subscribers reports the number of live subscribers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored and later
// subscriptions receive an already closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
