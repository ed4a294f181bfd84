package progress

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"tgsbot/internal/transport"
	"tgsbot/internal/transport/transporttest"
	"tgsbot/pkg/logx"
)

func TestReporterEditsInPlace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fa := transporttest.New()
	r := New(fa, transport.ChatTarget{ChatID: 5}, 77, logx.Nop())

	_ = r.AnnounceWaiting(ctx)
	_ = r.AnnounceWaiting(ctx)
	_ = r.AnnounceProgress(ctx, 1, 3, "a.svg")
	_ = r.AnnounceProgress(ctx, 1, 3, "a.svg")
	_ = r.AnnounceProgress(ctx, 2, 3, "b.svg")
	_ = r.AnnounceDone(ctx)
	_ = r.AnnounceFailure(ctx, "late")

	sent := fa.Sent()
	if len(sent) != 1 || sent[0].Text != TextWaiting || sent[0].ReplyTo != 77 {
		t.Fatalf("sent=%+v", sent)
	}
	ref, ok := r.Ref()
	if !ok || ref != sent[0].Ref {
		t.Fatalf("ref=%+v ok=%v", ref, ok)
	}
	var edits []string
	for _, e := range fa.Edits() {
		if e.Ref != ref {
			t.Fatalf("edit targeted %+v", e.Ref)
		}
		edits = append(edits, e.Text)
	}
	want := []string{"🔄 Converting 1/3: a.svg", "🔄 Converting 2/3: b.svg", TextDone}
	if !reflect.DeepEqual(edits, want) {
		t.Fatalf("edits=%q", edits)
	}
}

func TestReporterSingleDocumentHasNoProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fa := transporttest.New()
	r := New(fa, transport.ChatTarget{ChatID: 5}, 0, logx.Nop())

	_ = r.AnnounceWaiting(ctx)
	_ = r.AnnounceProgress(ctx, 1, 1, "only.svg")
	_ = r.AnnounceDone(ctx)

	if got := fa.Texts(); !reflect.DeepEqual(got, []string{TextWaiting, TextDone}) {
		t.Fatalf("texts=%q", got)
	}
}

func TestReporterFinalWithoutWaitingSends(t *testing.T) {
	t.Parallel()
	fa := transporttest.New()
	r := New(fa, transport.ChatTarget{ChatID: 9}, 0, logx.Nop())
	_ = r.AnnounceFailure(context.Background(), "❌ nope")
	_ = r.AnnounceWaiting(context.Background())

	if got := fa.Texts(); !reflect.DeepEqual(got, []string{"❌ nope"}) {
		t.Fatalf("texts=%q", got)
	}
	if s, e := r.Counts(); s != 1 || e != 0 {
		t.Fatalf("sends=%d edits=%d", s, e)
	}
}

func TestReporterShortensLongLabels(t *testing.T) {
	t.Parallel()
	fa := transporttest.New()
	r := New(fa, transport.ChatTarget{ChatID: 5}, 0, logx.Nop())

	long := strings.Repeat("ж", 100) + ".svg"
	_ = r.AnnounceProgress(context.Background(), 1, 2, long)

	want := "🔄 Converting 1/2: " + strings.Repeat("ж", 64) + "…"
	if got := fa.Texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("texts=%q", got)
	}
}
