package tgui

import (
	"context"
	"testing"

	kit "tgsbot/internal/transport"
)

func TestBuilderEscapesHTML(t *testing.T) {
	got := New().
		Title("📊", "Stats <live>").
		Blank().
		Line("user: a&b").
		Bullets("one", " ", "two").
		String()
	want := "📊 <b>Stats &lt;live&gt;</b>\n\nuser: a&amp;b\n• one\n• two"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestBuilderPlainModeKeepsText(t *testing.T) {
	m := New().ParseMode("").Section("Tips").Line("<b>").Build()
	if m.Text != "Tips\n<b>" {
		t.Fatalf("text=%q", m.Text)
	}
	if m.Opt.ParseMode != "" || !m.Opt.DisablePreview {
		t.Fatalf("opt=%+v", m.Opt)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestCode(t *testing.T) {
	if got := Code("a<b").String(); got != "<code>a&lt;b</code>" {
		t.Fatalf("got %q", got)
	}
}

type captureSender struct {
	text string
	opt  *kit.SendOptions
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.text, c.opt = text, opt
	return kit.MessageRef{MessageID: 1}, nil
}

func TestReplyDoesNotMutateMessage(t *testing.T) {
	m := New().Line("hi").Build()
	var s captureSender
	if _, err := m.Reply(context.Background(), &s, kit.ChatTarget{ChatID: 1}, 42); err != nil {
		t.Fatal(err)
	}
	if s.opt.ReplyTo != 42 || m.Opt.ReplyTo != 0 {
		t.Fatalf("reply_to sent=%d kept=%d", s.opt.ReplyTo, m.Opt.ReplyTo)
	}
}
