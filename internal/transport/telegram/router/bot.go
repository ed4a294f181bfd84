package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"tgsbot/internal/batch"
	"tgsbot/internal/broadcast"
	"tgsbot/internal/convert"
	"tgsbot/internal/progress"
	"tgsbot/internal/storage"
	kit "tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

// BatchQueue accepts validated documents for debounced batch processing.
type BatchQueue interface {
	Submit(ctx context.Context, userID int64, chat kit.ChatTarget, doc batch.Document) error
	Pending() int
}

// BroadcastQueue runs broadcast jobs in the background.
type BroadcastQueue interface {
	Submit(j broadcast.Job) error
}

type BotDeps struct {
	Adapter    kit.Adapter
	Registry   storage.Registry
	Batches    BatchQueue
	Broadcasts BroadcastQueue
	Log        logx.Logger
}

// Bot holds the user-facing behaviour: commands and document intake.
type Bot struct {
	deps     BotDeps
	log      logx.Logger
	maxInput atomic.Int64
}

func NewBot(deps BotDeps) *Bot {
	b := &Bot{deps: deps, log: deps.Log.With(logx.String("comp", "bot"))}
	b.maxInput.Store(convert.MaxInputBytes)
	return b
}

// SetMaxInput changes the upload cap for new submissions.
func (b *Bot) SetMaxInput(n int64) {
	if n > 0 {
		b.maxInput.Store(n)
	}
}

// Install registers the commands and the document handler on r.
func (b *Bot) Install(ctx context.Context, r *Router) {
	r.SetCommands(ctx, b.Commands())
	r.OnDocument(b.HandleDocument)
}

func (b *Bot) Commands() []Command {
	return []Command{
		{Name: "start", Description: "Start the bot", Handle: b.start},
		{Name: "help", Description: "How to use the bot", Handle: b.help},
		{Name: "stats", Description: "Bot statistics", Access: AccessAdminOnly, Handle: b.stats},
		{Name: "ban", Description: "Ban a user", Access: AccessAdminOnly, Handle: b.setBan(true)},
		{Name: "unban", Description: "Unban a user", Access: AccessAdminOnly, Handle: b.setBan(false)},
		{Name: "broadcast", Description: "Message every active user", Access: AccessAdminOnly, Timeout: time.Minute, Handle: b.broadcast},
	}
}

func userOf(m *kit.Message) storage.User {
	return storage.User{ID: m.FromID, Username: m.FromUsername, FirstName: m.FromFirstName, LastName: m.FromLastName}
}

func (b *Bot) start(ctx context.Context, req *Request) error {
	if err := b.deps.Registry.AddOrTouchUser(ctx, userOf(req.Message)); err != nil {
		req.Logger.Warn("track user failed", logx.Err(err))
	}
	_, err := welcomeText(b.maxInput.Load()).Reply(ctx, req.Adapter, req.Chat, req.Message.ID)
	return err
}

func (b *Bot) help(ctx context.Context, req *Request) error {
	_, err := helpText(b.maxInput.Load()).Reply(ctx, req.Adapter, req.Chat, req.Message.ID)
	return err
}

func (b *Bot) stats(ctx context.Context, req *Request) error {
	st, err := b.deps.Registry.Stats(ctx)
	if err != nil {
		_, _ = req.Reply(ctx, TextStorageError)
		return fmt.Errorf("stats: %w", err)
	}
	pending := 0
	if b.deps.Batches != nil {
		pending = b.deps.Batches.Pending()
	}
	_, err = statsText(st, pending).Reply(ctx, req.Adapter, req.Chat, req.Message.ID)
	return err
}

func (b *Bot) setBan(banned bool) HandlerFunc {
	verb, usage := "unbanned", "Usage: /unban <user_id>"
	if banned {
		verb, usage = "banned", "Usage: /ban <user_id>"
	}
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) == 0 {
			_, err := req.Reply(ctx, usage)
			return err
		}
		id, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err != nil {
			_, err := req.Reply(ctx, TextInvalidUserID)
			return err
		}
		var found bool
		if banned {
			found, err = b.deps.Registry.Ban(ctx, id)
		} else {
			found, err = b.deps.Registry.Unban(ctx, id)
		}
		if err != nil {
			_, _ = req.Reply(ctx, TextStorageError)
			return fmt.Errorf("set ban %d: %w", id, err)
		}
		if !found {
			_, err := req.Reply(ctx, fmt.Sprintf("❌ User %d not found.", id))
			return err
		}
		req.Logger.Info("ban flag changed", logx.Int64("user", id), logx.Bool("banned", banned))
		_, err = req.Reply(ctx, fmt.Sprintf("✅ User %d has been %s.", id, verb))
		return err
	}
}

func (b *Bot) broadcast(ctx context.Context, req *Request) error {
	p := broadcast.Payload{Text: req.Text}
	if rt := req.Message.ReplyTo; rt != nil {
		if rt.Media != nil {
			m := *rt.Media
			p.Media = &m
		} else if p.Text == "" {
			p.Text = rt.Text
		}
	}
	if p.Text == "" && p.Media == nil {
		_, err := req.Reply(ctx, TextBroadcastHelp)
		return err
	}

	recipients, err := b.deps.Registry.ListActiveRecipients(ctx)
	if err != nil {
		_, _ = req.Reply(ctx, TextStorageError)
		return fmt.Errorf("list recipients: %w", err)
	}

	status := progress.New(req.Adapter, req.Chat, req.Message.ID, req.Logger)
	if err := status.Update(ctx, broadcast.StartingText(len(recipients))); err != nil {
		req.Logger.Warn("broadcast status failed", logx.Err(err))
	}
	job := broadcast.NewJob(recipients, p, status)
	if err := b.deps.Broadcasts.Submit(job); err != nil {
		_ = status.Finish(ctx, TextQueueFull)
		return err
	}
	req.Logger.Info("broadcast queued", logx.String("job", job.ID), logx.Int("recipients", len(recipients)))
	return nil
}

// HandleDocument runs the submission-time checks and queues the document.
func (b *Bot) HandleDocument(ctx context.Context, msg *kit.Message) {
	log := b.log.With(logx.Int64("user", msg.FromID))
	reply := func(text string) {
		if _, err := b.deps.Adapter.SendText(ctx, msg.Chat(), text, &kit.SendOptions{ReplyTo: msg.ID}); err != nil {
			log.Warn("reply failed", logx.Err(err))
		}
	}

	banned, err := b.deps.Registry.IsBanned(ctx, msg.FromID)
	if err != nil {
		log.Warn("ban check failed", logx.Err(err))
		reply(TextStorageError)
		return
	}
	if banned {
		reply(TextBanned)
		return
	}
	if err := b.deps.Registry.AddOrTouchUser(ctx, userOf(msg)); err != nil {
		log.Warn("track user failed", logx.Err(err))
	}

	d := msg.Document
	max := b.maxInput.Load()
	if err := convert.CheckDeclared(d.FileName, d.MimeType, d.FileSize, max); err != nil {
		log.Info("document rejected", logx.String("file", d.FileName), logx.Err(err))
		if convert.IsValidation(err, convert.KindTooLarge) {
			reply(textTooLarge(d.FileSize, max))
		} else {
			reply(TextNotSVG)
		}
		return
	}

	err = b.deps.Batches.Submit(ctx, msg.FromID, msg.Chat(), batch.Document{
		FileID:    d.FileID,
		FileName:  d.FileName,
		Size:      d.FileSize,
		MimeType:  d.MimeType,
		MessageID: msg.ID,
	})
	if errors.Is(err, batch.ErrClosed) {
		reply(TextShuttingDown)
	} else if err != nil {
		log.Error("submit failed", logx.Err(err))
	}
}
