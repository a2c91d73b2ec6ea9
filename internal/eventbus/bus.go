package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Firing is a lightweight, in-memory signal published whenever schedule
// tokens fire. It lets other parts of the process select on scheduler
// activity alongside their own channels and I/O.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Firing struct {
	Time    time.Time
	Tokens  []string
	Overrun bool // true when the tokens were missed rather than on time
}

type Bus interface {
	Publish(e Firing)
	Subscribe(buffer int) (ch <-chan Firing, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Firing{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Firing
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Firing) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Firing, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently
		// and the channel closes, recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Firing, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Firing, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
