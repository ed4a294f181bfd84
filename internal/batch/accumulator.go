package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"tgsbot/internal/progress"
	"tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

var ErrClosed = errors.New("batch accumulator closed")

// Document is a submitted file waiting for its batch to flush.
type Document struct {
	FileID     string
	FileName   string
	Size       int64
	MimeType   string
	MessageID  int
	ReceivedAt time.Time
}

// Flush is a batch that left the live map. It is owned by exactly one
// processing run.
type Flush struct {
	ID       string
	UserID   int64
	Chat     transport.ChatTarget
	Docs     []Document
	Reporter *progress.Reporter
	Opened   time.Time
}

type FlushFunc func(f Flush)

type Options struct {
	Debounce  time.Duration
	Clock     Clock
	Messenger progress.Messenger
	OnFlush   FlushFunc
	Log       logx.Logger
}

// Accumulator groups documents per user and flushes a group once no new
// document has arrived for the debounce window.
type Accumulator struct {
	clock Clock
	msg   progress.Messenger
	flush FlushFunc
	log   logx.Logger

	mu       sync.Mutex
	debounce time.Duration
	batches  map[int64]*pending
	gen      uint64
	closed   bool

	inflight sync.WaitGroup
}

type pending struct {
	id       string
	chat     transport.ChatTarget
	docs     []Document
	reporter *progress.Reporter
	timer    Timer
	gen      uint64
	opened   time.Time
}

func NewAccumulator(opts Options) *Accumulator {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	return &Accumulator{
		clock:    opts.Clock,
		msg:      opts.Messenger,
		flush:    opts.OnFlush,
		log:      opts.Log,
		debounce: opts.Debounce,
		batches:  map[int64]*pending{},
	}
}

// SetDebounce changes the window for timers armed from now on.
func (a *Accumulator) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.debounce = d
	a.mu.Unlock()
}

// Submit appends doc to the user's open batch, opening one if needed, and
// restarts the debounce timer. The first document of a batch posts the
// waiting status as a reply to that document.
func (a *Accumulator) Submit(ctx context.Context, userID int64, chat transport.ChatTarget, doc Document) error {
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = a.clock.Now()
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	b, ok := a.batches[userID]
	fresh := !ok
	if fresh {
		b = &pending{
			id:       ulid.Make().String(),
			chat:     chat,
			reporter: progress.New(a.msg, chat, doc.MessageID, a.log.With(logx.Int64("user", userID))),
			opened:   doc.ReceivedAt,
		}
		a.batches[userID] = b
	}
	b.docs = append(b.docs, doc)
	if b.timer != nil {
		b.timer.Stop()
	}
	a.gen++
	gen := a.gen
	b.gen = gen
	b.timer = a.clock.AfterFunc(a.debounce, func() { a.fire(userID, gen) })
	rep, id, n := b.reporter, b.id, len(b.docs)
	a.mu.Unlock()

	a.log.Debug("document queued",
		logx.Int64("user", userID),
		logx.String("batch", id),
		logx.Int("docs", n),
		logx.String("file", doc.FileName),
	)
	if fresh {
		if err := rep.AnnounceWaiting(ctx); err != nil {
			a.log.Warn("waiting status failed", logx.String("batch", id), logx.Err(err))
		}
	}
	return nil
}

// fire runs on timer expiry. A timer whose generation no longer matches
// was superseded by a later submission and does nothing.
func (a *Accumulator) fire(userID int64, gen uint64) {
	a.mu.Lock()
	b, ok := a.batches[userID]
	if !ok || b.gen != gen {
		a.mu.Unlock()
		return
	}
	delete(a.batches, userID)
	a.inflight.Add(1)
	a.mu.Unlock()

	defer a.inflight.Done()
	a.run(userID, b)
}

func (a *Accumulator) run(userID int64, b *pending) {
	if a.flush == nil {
		return
	}
	a.flush(Flush{
		ID:       b.id,
		UserID:   userID,
		Chat:     b.chat,
		Docs:     b.docs,
		Reporter: b.reporter,
		Opened:   b.opened,
	})
}

// Pending is the number of users with an open batch.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

// Drain stops accepting documents, flushes every open batch at once and
// waits for all flushes (including ones already running) to finish or for
// ctx to expire.
func (a *Accumulator) Drain(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	open := a.batches
	a.batches = map[int64]*pending{}
	for _, b := range open {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	a.inflight.Add(len(open))
	a.mu.Unlock()

	for userID, b := range open {
		go func(userID int64, b *pending) {
			defer a.inflight.Done()
			a.run(userID, b)
		}(userID, b)
	}
	if len(open) > 0 {
		a.log.Info("draining open batches", logx.Int("batches", len(open)))
	}

	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
