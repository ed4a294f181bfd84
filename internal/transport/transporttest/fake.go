// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"os"
	"sync"

	"tgsbot/internal/transport"
)

type Sent struct {
	To      transport.ChatTarget
	Ref     transport.MessageRef
	Text    string
	ReplyTo int
}

type Edit struct {
	Ref  transport.MessageRef
	Text string
}

type File struct {
	To       transport.ChatTarget
	FileName string
	Caption  string
	Data     []byte
}

type MediaSend struct {
	To      transport.ChatTarget
	Media   transport.Media
	Caption string
}

// Adapter records every outbound call. Files registered with SetFile can
// be downloaded. Hooks, when set, may fail individual calls.
type Adapter struct {
	mu     sync.Mutex
	nextID int
	files  map[string][]byte

	sent   []Sent
	edits  []Edit
	docs   []File
	media  []MediaSend
	events []string

	SendHook     func(to transport.ChatTarget, text string) error
	MediaHook    func(to transport.ChatTarget) error
	FileHook     func(to transport.ChatTarget, name string) error
	DownloadHook func(fileID string) error
}

func New() *Adapter {
	return &Adapter{nextID: 100, files: map[string][]byte{}}
}

func (a *Adapter) SetFile(fileID string, data []byte) {
	a.mu.Lock()
	a.files[fileID] = data
	a.mu.Unlock()
}

func (a *Adapter) Start(ctx context.Context, _ chan<- transport.Update) error {
	<-ctx.Done()
	return nil
}

func (a *Adapter) Stop(context.Context) error { return nil }

func (a *Adapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if a.SendHook != nil {
		if err := a.SendHook(to, text); err != nil {
			a.note("send-failed:" + text)
			return transport.MessageRef{}, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	s := Sent{To: to, Ref: ref, Text: text}
	if opt != nil {
		s.ReplyTo = opt.ReplyTo
	}
	a.sent = append(a.sent, s)
	a.events = append(a.events, "send:"+text)
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, Edit{Ref: ref, Text: text})
	a.events = append(a.events, "edit:"+text)
	return nil
}

func (a *Adapter) SendFile(_ context.Context, to transport.ChatTarget, f transport.OutboundFile) (transport.MessageRef, error) {
	if a.FileHook != nil {
		if err := a.FileHook(to, f.FileName); err != nil {
			return transport.MessageRef{}, err
		}
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return transport.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.docs = append(a.docs, File{To: to, FileName: f.FileName, Caption: f.Caption, Data: data})
	a.events = append(a.events, "file:"+f.FileName)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

func (a *Adapter) SendMedia(_ context.Context, to transport.ChatTarget, m transport.Media, caption string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if a.MediaHook != nil {
		if err := a.MediaHook(to); err != nil {
			return transport.MessageRef{}, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.media = append(a.media, MediaSend{To: to, Media: m, Caption: caption})
	a.events = append(a.events, "media:"+string(m.Kind))
	return transport.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

var ErrNoSuchFile = errors.New("transporttest: unknown file id")

func (a *Adapter) Download(_ context.Context, fileID, dst string) error {
	if a.DownloadHook != nil {
		if err := a.DownloadHook(fileID); err != nil {
			return err
		}
	}
	a.mu.Lock()
	data, ok := a.files[fileID]
	a.mu.Unlock()
	if !ok {
		return ErrNoSuchFile
	}
	return os.WriteFile(dst, data, 0o600)
}

func (a *Adapter) note(ev string) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Edits() []Edit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Edit(nil), a.edits...)
}

func (a *Adapter) Files() []File {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]File(nil), a.docs...)
}

func (a *Adapter) Media() []MediaSend {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]MediaSend(nil), a.media...)
}

// Events lists every call in order as "send:<text>", "edit:<text>",
// "file:<name>" or "media:<kind>".
func (a *Adapter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// Texts returns the text of every send and edit, in call order.
func (a *Adapter) Texts() []string {
	var out []string
	for _, ev := range a.Events() {
		switch {
		case len(ev) > 5 && ev[:5] == "send:":
			out = append(out, ev[5:])
		case len(ev) > 5 && ev[:5] == "edit:":
			out = append(out, ev[5:])
		}
	}
	return out
}

var _ transport.Adapter = (*Adapter)(nil)
