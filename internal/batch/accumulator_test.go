package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tgsbot/internal/progress"
	"tgsbot/internal/transport"
	"tgsbot/internal/transport/transporttest"
	"tgsbot/pkg/logx"
)

type flushLog struct {
	mu      sync.Mutex
	flushes []Flush
}

func (l *flushLog) record(f Flush) {
	l.mu.Lock()
	l.flushes = append(l.flushes, f)
	l.mu.Unlock()
}

func (l *flushLog) all() []Flush {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Flush(nil), l.flushes...)
}

func newTestAccumulator(t *testing.T) (*Accumulator, *ManualClock, *transporttest.Adapter, *flushLog) {
	t.Helper()
	clk := NewManualClock(time.Unix(1_700_000_000, 0))
	tr := transporttest.New()
	fl := &flushLog{}
	acc := NewAccumulator(Options{
		Debounce:  2 * time.Second,
		Clock:     clk,
		Messenger: tr,
		OnFlush:   fl.record,
		Log:       logx.Nop(),
	})
	return acc, clk, tr, fl
}

func doc(id string, msg int) Document {
	return Document{FileID: id, FileName: id + ".svg", MessageID: msg}
}

func names(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.FileID)
	}
	return out
}

func TestDebounceRestartsOnEveryArrival(t *testing.T) {
	t.Parallel()

	acc, clk, _, fl := newTestAccumulator(t)
	ctx := context.Background()
	chat := transport.ChatTarget{ChatID: 7}

	if err := acc.Submit(ctx, 7, chat, doc("a", 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clk.Advance(1500 * time.Millisecond)
	if err := acc.Submit(ctx, 7, chat, doc("b", 2)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := clk.Pending(); n != 1 {
		t.Fatalf("pending timers=%d, superseded timer still armed", n)
	}
	clk.Advance(1500 * time.Millisecond)
	if got := len(fl.all()); got != 0 {
		t.Fatalf("flushed early: %d", got)
	}
	clk.Advance(500 * time.Millisecond)

	fs := fl.all()
	if len(fs) != 1 {
		t.Fatalf("flushes=%d want 1", len(fs))
	}
	if got := names(fs[0].Docs); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("docs=%v", got)
	}
	if acc.Pending() != 0 {
		t.Fatalf("batch still open after flush")
	}
}

func TestArrivalDuringFlushStartsNewBatch(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(time.Unix(1_700_000_000, 0))
	fl := &flushLog{}
	chat := transport.ChatTarget{ChatID: 7}
	var acc *Accumulator
	var pendingDuring int
	acc = NewAccumulator(Options{
		Debounce:  2 * time.Second,
		Clock:     clk,
		Messenger: transporttest.New(),
		OnFlush: func(f Flush) {
			fl.record(f)
			if len(fl.all()) == 1 {
				_ = acc.Submit(context.Background(), 7, chat, doc("late", 2))
				pendingDuring = acc.Pending()
			}
		},
		Log: logx.Nop(),
	})

	_ = acc.Submit(context.Background(), 7, chat, doc("a", 1))
	clk.Advance(2 * time.Second)
	if pendingDuring != 1 {
		t.Fatalf("pending during flush=%d want 1", pendingDuring)
	}
	clk.Advance(2 * time.Second)

	fs := fl.all()
	if len(fs) != 2 {
		t.Fatalf("flushes=%d want 2", len(fs))
	}
	if got := names(fs[0].Docs); len(got) != 1 || got[0] != "a" {
		t.Fatalf("first flush docs=%v", got)
	}
	if got := names(fs[1].Docs); len(got) != 1 || got[0] != "late" {
		t.Fatalf("second flush docs=%v", got)
	}
	if fs[0].ID == fs[1].ID {
		t.Fatalf("late document joined the flushed batch %s", fs[0].ID)
	}
}

func TestArrivalAfterFlushStartsNewBatch(t *testing.T) {
	t.Parallel()

	acc, clk, tr, fl := newTestAccumulator(t)
	ctx := context.Background()
	chat := transport.ChatTarget{ChatID: 7}

	_ = acc.Submit(ctx, 7, chat, doc("a", 1))
	clk.Advance(2 * time.Second)
	_ = acc.Submit(ctx, 7, chat, doc("b", 2))
	clk.Advance(2 * time.Second)

	fs := fl.all()
	if len(fs) != 2 {
		t.Fatalf("flushes=%d want 2", len(fs))
	}
	if fs[0].ID == fs[1].ID {
		t.Fatalf("two flushes share batch id %s", fs[0].ID)
	}
	if fs[0].Reporter == fs[1].Reporter {
		t.Fatalf("two flushes share a reporter")
	}
	if len(fs[0].Docs) != 1 || len(fs[1].Docs) != 1 {
		t.Fatalf("docs=%v / %v", names(fs[0].Docs), names(fs[1].Docs))
	}

	sent := tr.Sent()
	if len(sent) != 2 {
		t.Fatalf("waiting statuses=%d want 2", len(sent))
	}
	for i, s := range sent {
		if s.Text != progress.TextWaiting {
			t.Fatalf("sent[%d]=%q", i, s.Text)
		}
		if s.ReplyTo != i+1 {
			t.Fatalf("sent[%d] reply_to=%d want %d", i, s.ReplyTo, i+1)
		}
	}
}

func TestUsersAreIsolated(t *testing.T) {
	t.Parallel()

	acc, clk, _, fl := newTestAccumulator(t)
	ctx := context.Background()

	_ = acc.Submit(ctx, 1, transport.ChatTarget{ChatID: 1}, doc("u1a", 1))
	clk.Advance(time.Second)
	_ = acc.Submit(ctx, 2, transport.ChatTarget{ChatID: 2}, doc("u2a", 2))
	_ = acc.Submit(ctx, 1, transport.ChatTarget{ChatID: 1}, doc("u1b", 3))
	if acc.Pending() != 2 {
		t.Fatalf("pending=%d want 2", acc.Pending())
	}
	clk.Advance(2 * time.Second)

	fs := fl.all()
	if len(fs) != 2 {
		t.Fatalf("flushes=%d want 2", len(fs))
	}
	for _, f := range fs {
		for _, d := range f.Docs {
			if d.FileID[:2] != map[int64]string{1: "u1", 2: "u2"}[f.UserID] {
				t.Fatalf("user %d got %s", f.UserID, d.FileID)
			}
		}
		if f.Chat.ChatID != f.UserID {
			t.Fatalf("chat=%d user=%d", f.Chat.ChatID, f.UserID)
		}
	}
}

func TestSetDebounceAppliesToNextTimer(t *testing.T) {
	t.Parallel()

	acc, clk, _, fl := newTestAccumulator(t)
	acc.SetDebounce(5 * time.Second)
	_ = acc.Submit(context.Background(), 1, transport.ChatTarget{ChatID: 1}, doc("a", 1))
	clk.Advance(4 * time.Second)
	if len(fl.all()) != 0 {
		t.Fatalf("flushed before the new window")
	}
	clk.Advance(time.Second)
	if len(fl.all()) != 1 {
		t.Fatalf("not flushed after the new window")
	}
}

func TestDrainFlushesOpenBatchesAndCloses(t *testing.T) {
	t.Parallel()

	acc, clk, _, fl := newTestAccumulator(t)
	ctx := context.Background()
	_ = acc.Submit(ctx, 1, transport.ChatTarget{ChatID: 1}, doc("a", 1))
	_ = acc.Submit(ctx, 2, transport.ChatTarget{ChatID: 2}, doc("b", 2))

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := acc.Drain(dctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := len(fl.all()); got != 2 {
		t.Fatalf("flushes=%d want 2", got)
	}

	// Stopped timers must not flush a second time.
	clk.Advance(time.Minute)
	if got := len(fl.all()); got != 2 {
		t.Fatalf("flushes after drain=%d", got)
	}

	err := acc.Submit(ctx, 1, transport.ChatTarget{ChatID: 1}, doc("c", 3))
	if !errors.Is(err, ErrClosed) || !IsClosed(err) {
		t.Fatalf("submit after drain: %v", err)
	}
}

func TestManualClockStop(t *testing.T) {
	t.Parallel()

	clk := NewManualClock(time.Time{})
	fired := 0
	tm := clk.AfterFunc(time.Second, func() { fired++ })
	if !tm.Stop() {
		t.Fatalf("first stop should report true")
	}
	if tm.Stop() {
		t.Fatalf("second stop should report false")
	}
	clk.Advance(time.Hour)
	if fired != 0 {
		t.Fatalf("stopped timer fired")
	}
}
