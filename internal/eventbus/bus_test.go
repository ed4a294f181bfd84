package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeBatchFlushed, Data: BatchFlushed{UserID: 1, Docs: 2}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TypeBatchFlushed || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if d, ok := e.Data.(BatchFlushed); !ok || d.Docs != 2 {
				t.Fatalf("unexpected data %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "y"})
	b.Publish(Event{Type: "z"})

	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped=%d want 2", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	b.Publish(Event{Type: "after"})
}
