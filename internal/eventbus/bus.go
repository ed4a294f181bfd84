package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot. Data carries one of the payload structs below.
const (
	TypeBatchFlushed      = "batch.flushed"
	TypeBatchProcessed    = "batch.processed"
	TypeBatchFailed       = "batch.failed"
	TypeBroadcastFinished = "broadcast.finished"
	TypeTempSwept         = "convert.swept"
	TypeConfigReloaded    = "config.reloaded"
)

// Event is a small in-memory signal. Publish never blocks; a slow
// subscriber loses events instead of stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type BatchFlushed struct {
	BatchID string
	UserID  int64
	Docs    int
}

type BatchProcessed struct {
	BatchID   string
	UserID    int64
	Docs      int
	Converted int
	Fallbacks int
	Failed    int
	Duration  time.Duration
}

type BatchFailed struct {
	BatchID string
	UserID  int64
	Reason  string
}

type BroadcastFinished struct {
	JobID  string
	Sent   int
	Failed int
	Total  int
}

type TempSwept struct {
	Removed int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls, so close is safe.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
