// Package progress keeps one editable status message per batch.
package progress

import (
	"context"
	"fmt"
	"sync"

	"tgsbot/internal/transport"
	"tgsbot/pkg/logx"
	"tgsbot/pkg/tgui"
)

const (
	TextWaiting = "⏳ Please wait..."
	TextDone    = "Done ✅"

	maxLabelRunes = 64
)

// Messenger is the subset of transport.Adapter a Reporter needs.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
}

// Reporter owns a single status message. The first announcement sends it
// (as a reply to ReplyTo when set); every later one edits it in place.
// Calls are serialized, so updates land in call order.
type Reporter struct {
	msg     Messenger
	to      transport.ChatTarget
	replyTo int
	log     logx.Logger

	mu       sync.Mutex
	ref      transport.MessageRef
	hasRef   bool
	last     string
	finished bool
	sends    int
	edits    int
}

func New(msg Messenger, to transport.ChatTarget, replyTo int, log logx.Logger) *Reporter {
	return &Reporter{msg: msg, to: to, replyTo: replyTo, log: log}
}

// AnnounceWaiting posts the waiting status. It does nothing if a status
// already exists or the reporter has finished.
func (r *Reporter) AnnounceWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasRef || r.finished {
		return nil
	}
	return r.setLocked(ctx, TextWaiting)
}

// AnnounceProgress shows "current/total". Single-document batches are
// not reported.
func (r *Reporter) AnnounceProgress(ctx context.Context, current, total int, label string) error {
	if total <= 1 {
		return nil
	}
	text := fmt.Sprintf("🔄 Converting %d/%d", current, total)
	if label != "" {
		text += ": " + tgui.TruncRunes(label, maxLabelRunes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	return r.setLocked(ctx, text)
}

func (r *Reporter) AnnounceDone(ctx context.Context) error {
	return r.Finish(ctx, TextDone)
}

// AnnounceFailure shows text as the final status.
func (r *Reporter) AnnounceFailure(ctx context.Context, text string) error {
	return r.Finish(ctx, text)
}

// Update sets an intermediate status with arbitrary text.
func (r *Reporter) Update(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	return r.setLocked(ctx, text)
}

// Finish sets the final status. Only the first final call has any effect.
func (r *Reporter) Finish(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	return r.setLocked(ctx, text)
}

// Ref returns the status message, if one was sent.
func (r *Reporter) Ref() (transport.MessageRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref, r.hasRef
}

// Counts reports how many sends and edits reached the platform.
func (r *Reporter) Counts() (sends, edits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends, r.edits
}

func (r *Reporter) setLocked(ctx context.Context, text string) error {
	if r.msg == nil {
		return nil
	}
	if r.hasRef {
		if text == r.last {
			return nil
		}
		if err := r.msg.EditText(ctx, r.ref, text, nil); err != nil {
			r.log.Warn("status edit failed", logx.Err(err))
			return err
		}
		r.edits++
		r.last = text
		return nil
	}
	ref, err := r.msg.SendText(ctx, r.to, text, &transport.SendOptions{ReplyTo: r.replyTo})
	if err != nil {
		r.log.Warn("status send failed", logx.Err(err))
		return err
	}
	r.ref, r.hasRef = ref, true
	r.sends++
	r.last = text
	return nil
}
