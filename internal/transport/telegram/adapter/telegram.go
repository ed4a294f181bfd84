package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "tgsbot/internal/runtime/supervisor"
	kit "tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

var errPollerExited = errors.New("telegram poller exited")

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates lost because the consumer fell behind the poll loop.
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram.adapter")), bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// BotUsername is the bot's @handle as reported by getMe.
func (a *Adapter) BotUsername() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: toMessage(m)})
		}
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Document == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateDocument, Message: toMessage(m)})
		return nil
	})
}

func toMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
		out.FromFirstName = m.Sender.FirstName
		out.FromLastName = m.Sender.LastName
	}
	if d := m.Document; d != nil {
		out.Document = &kit.Document{
			FileID:   d.FileID,
			FileName: d.FileName,
			FileSize: d.FileSize,
			MimeType: d.MIME,
		}
	}
	out.Media = mediaOf(m)
	if m.ReplyTo != nil {
		r := m.ReplyTo
		out.ReplyTo = &kit.Message{ID: r.ID, ThreadID: r.ThreadID, Text: r.Text, Media: mediaOf(r)}
		if r.Chat != nil {
			out.ReplyTo.ChatID = r.Chat.ID
		}
	}
	return out
}

// mediaOf picks the attachment a broadcast can forward by file id.
func mediaOf(m *tele.Message) *kit.Media {
	switch {
	case m.Photo != nil:
		return &kit.Media{Kind: kit.MediaPhoto, FileID: m.Photo.FileID}
	case m.Video != nil:
		return &kit.Media{Kind: kit.MediaVideo, FileID: m.Video.FileID}
	case m.Animation != nil:
		return &kit.Media{Kind: kit.MediaAnimation, FileID: m.Animation.FileID}
	case m.Audio != nil:
		return &kit.Media{Kind: kit.MediaAudio, FileID: m.Audio.FileID}
	case m.Voice != nil:
		return &kit.Media{Kind: kit.MediaVoice, FileID: m.Voice.FileID}
	case m.Document != nil:
		return &kit.Media{Kind: kit.MediaDocument, FileID: m.Document.FileID}
	}
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop. Returning early while still running is a
	// failure and gets restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.BotUsername()))
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() == nil {
			return errPollerExited
		}
		return nil
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if opt.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(to, opt)
		if i > 0 {
			// Only the first chunk is a reply.
			so.ReplyTo = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, sendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(kit.ChatTarget{}, opt)
	so.ReplyTo = nil
	if _, err := a.bot.Edit(m, chunks[0], so); err != nil {
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}
	// Overflow goes out as new messages.
	to := kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}
	for _, chunk := range chunks[1:] {
		if _, err := a.SendText(ctx, to, chunk, &kit.SendOptions{ParseMode: parseMode}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, f kit.OutboundFile) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	doc := &tele.Document{
		File:     tele.FromDisk(f.Path),
		FileName: f.FileName,
		Caption:  f.Caption,
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, sendOptions(to, nil))
	if err != nil {
		return kit.MessageRef{}, sendError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	file := tele.File{FileID: m.FileID}
	var what tele.Sendable
	switch m.Kind {
	case kit.MediaPhoto:
		what = &tele.Photo{File: file, Caption: caption}
	case kit.MediaVideo:
		what = &tele.Video{File: file, Caption: caption}
	case kit.MediaAnimation:
		what = &tele.Animation{File: file, Caption: caption}
	case kit.MediaAudio:
		what = &tele.Audio{File: file, Caption: caption}
	case kit.MediaVoice:
		what = &tele.Voice{File: file, Caption: caption}
	case kit.MediaDocument:
		what = &tele.Document{File: file, Caption: caption}
	default:
		return kit.MessageRef{}, errors.New("unsupported media kind: " + string(m.Kind))
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, sendError(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// sendError turns a Telegram flood-wait into a transport.RateLimitError.
func sendError(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.RateLimitError{RetryAfter: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	return err
}

// Download resolves fileID and writes its bytes to dst. telebot has no
// context-aware download, so ctx only gates the start.
func (a *Adapter) Download(ctx context.Context, fileID, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Download(&tele.File{FileID: fileID}, dst)
}

// UpdateMenuCommands sets the bot's command list. It only calls Telegram
// when the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		list = append(list, tele.Command{Text: c.Command, Description: d})
		if len(list) >= 100 {
			break
		}
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
