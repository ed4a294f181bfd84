package tgui

import (
	"context"
	"strings"

	kit "tgsbot/internal/transport"
)

// Message is rendered text plus the options needed to send it.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Sender is the subset of transport.Adapter used to deliver a Message.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Send delivers the message to to.
func (m Message) Send(ctx context.Context, s Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	return s.SendText(ctx, to, m.Text, m.options())
}

// Reply delivers the message as a reply to msgID.
func (m Message) Reply(ctx context.Context, s Sender, to kit.ChatTarget, msgID int) (kit.MessageRef, error) {
	opt := m.options()
	opt.ReplyTo = msgID
	return s.SendText(ctx, to, m.Text, opt)
}

func (m Message) options() *kit.SendOptions {
	if m.Opt == nil {
		return &kit.SendOptions{}
	}
	cp := *m.Opt
	return &cp
}

// Builder assembles a message line by line.
// Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	parseMode      string
	disablePreview bool
	lines          []string
}

// New creates a new builder with sensible defaults for Telegram.
func New() *Builder {
	return &Builder{parseMode: "HTML", disablePreview: true}
}

// ParseMode overrides Telegram parse mode ("HTML", "Markdown", or empty).
func (b *Builder) ParseMode(mode string) *Builder {
	b.parseMode = strings.TrimSpace(mode)
	return b
}

func (b *Builder) html() bool { return strings.EqualFold(b.parseMode, "HTML") }

// render escapes s for HTML mode, optionally in bold; other modes get s as is.
func (b *Builder) render(s string, bold bool) string {
	if !b.html() {
		return s
	}
	if bold {
		return B(s).String()
	}
	return Esc(s).String()
}

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	line := b.render(title, true)
	if e := strings.TrimSpace(emoji); e != "" {
		line = b.render(e, false) + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Section adds a bold header line.
func (b *Builder) Section(title string) *Builder {
	if title = strings.TrimSpace(title); title != "" {
		b.lines = append(b.lines, b.render(title, true))
	}
	return b
}

// Line adds a single line, escaped in HTML mode.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		s = ""
	}
	b.lines = append(b.lines, b.render(s, false))
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds bullet lines.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		b.Line("• " + it)
	}
	return b
}

// Build produces a ready-to-send Message.
func (b *Builder) Build() Message {
	text := strings.Trim(strings.Join(b.lines, "\n"), "\n")
	return Message{Text: text, Opt: &kit.SendOptions{ParseMode: b.parseMode, DisablePreview: b.disablePreview}}
}

// String returns the rendered text.
func (b *Builder) String() string { return b.Build().Text }
