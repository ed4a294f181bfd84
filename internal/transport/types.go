package transport

import (
	"context"
	"strconv"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateDocument UpdateKind = "document"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // telegram forum topic thread id (0 if none)
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	Text          string
	IsGroup       bool

	// Document is set for UpdateDocument.
	Document *Document
	// Media is the typed attachment carried by the message, if any.
	Media *Media
	// ReplyTo is the message this one replies to (one level deep).
	ReplyTo *Message
}

// Ref returns a reference usable for replies and edits.
func (m *Message) Ref() MessageRef {
	if m == nil {
		return MessageRef{}
	}
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

// Chat returns the chat the message was posted in.
func (m *Message) Chat() ChatTarget {
	if m == nil {
		return ChatTarget{}
	}
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

// Document is an inbound file as declared by the platform.
// Size and MimeType are client-declared and are re-checked after download.
type Document struct {
	FileID   string
	FileName string
	FileSize int64
	MimeType string
}

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaDocument  MediaKind = "document"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
)

// Media references content already stored on the platform.
type Media struct {
	Kind   MediaKind
	FileID string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo makes the message a reply (0 = none).
	ReplyTo int
}

// OutboundFile is a local file delivered as a document.
type OutboundFile struct {
	Path     string
	FileName string
	Caption  string
}

// TextSender is the minimal capability needed by log sinks and reporters.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	TextSender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendFile(ctx context.Context, to ChatTarget, f OutboundFile) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, m Media, caption string, opt *SendOptions) (MessageRef, error)

	// Download fetches the raw bytes of fileID into dst (created/truncated).
	Download(ctx context.Context, fileID, dst string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// DeliveryError is a failed send to one recipient. Callers count it and move on.
type DeliveryError struct {
	To  ChatTarget
	Err error
}

func (e *DeliveryError) Error() string {
	return "delivery to " + strconv.FormatInt(e.To.ChatID, 10) + " failed: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RateLimitError means the platform refused a send and asked the caller to
// wait. Nothing was delivered.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String() + ": " + e.Err.Error()
}

func (e *RateLimitError) Unwrap() error { return e.Err }
