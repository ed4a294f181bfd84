package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "tgsbot/internal/runtime/supervisor"
	kit "tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Text is everything after the command word, whitespace preserved.
	Text  string
	Args  []string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply answers the request's message with plain text.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ReplyTo: r.Message.ID, DisablePreview: true})
}

// DocumentHandler receives every inbound document. It runs on the
// dispatch loop, so documents from one chat are handled in arrival order.
type DocumentHandler func(ctx context.Context, msg *kit.Message)

const (
	defaultWorkers  = 4
	jobQueueLen     = 256
	commandTimeout  = 30 * time.Second
	documentTimeout = 20 * time.Second
)

// Router turns updates into command and document handler calls.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter

	mu       sync.RWMutex
	commands map[string]*Command
	list     []Command
	admins   []int64
	onDoc    DocumentHandler

	workers int
	jobs    chan func()
}

func New(log logx.Logger, adapter kit.Adapter, admins []int64) *Router {
	return &Router{
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		commands: map[string]*Command{},
		admins:   append([]int64(nil), admins...),
		workers:  defaultWorkers,
		jobs:     make(chan func(), jobQueueLen),
	}
}

// SetAdmins replaces the admin list. Safe during hot reload.
func (r *Router) SetAdmins(ids []int64) {
	cp := append([]int64(nil), ids...)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.admins {
		if a == id {
			return true
		}
	}
	return false
}

func (r *Router) OnDocument(h DocumentHandler) {
	r.mu.Lock()
	r.onDoc = h
	r.mu.Unlock()
}

// SetCommands installs the command set and, when the adapter supports it,
// refreshes the platform command menu in the background.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	index := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		index[name] = &cc
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := index[a]; !taken {
					index[a] = &cc
				}
			}
		}
		list = append(list, cc)
	}

	r.mu.Lock()
	r.commands = index
	r.list = list
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(list)
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the installed commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

// tryEnqueue is a panic-safe enqueue (the jobs channel may already be closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Commands run on a bounded worker pool; documents are handled inline.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(idx int, job func()) {
	// a job should never panic (middleware catches), but keep the worker alive
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec))
		}
	}()
	job()
}

// Route handles a single update.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	switch up.Kind {
	case kit.UpdateDocument:
		r.routeDocument(ctx, msg)
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	}
}

func (r *Router) routeDocument(ctx context.Context, msg *kit.Message) {
	r.mu.RLock()
	h := r.onDoc
	r.mu.RUnlock()
	if h == nil || msg.Document == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, documentTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in document handler", logx.Int64("from_id", msg.FromID), logx.Any("panic", rec))
		}
	}()
	h(dctx, msg)
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	word, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	r.mu.RLock()
	cmd := r.commands[word]
	r.mu.RUnlock()
	if cmd == nil {
		r.log.Debug("unknown command ignored", logx.String("cmd", word), logx.Int64("from_id", msg.FromID))
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    msg.Chat(),
		FromID:  msg.FromID,
		Command: cmd.Name,
		Text:    rest,
		Args:    tokenizeCommandLine(rest),
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = commandTimeout
	}
	mws := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout)}
	if cmd.Access == AccessAdminOnly {
		mws = append(mws, MWAdminOnly(r.IsAdmin))
	}
	final := Chain(cmd.Handle, mws...)

	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = req.Reply(ctx, "⏳ Busy, try again in a moment.")
	}
}
