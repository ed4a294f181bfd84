package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"tgsbot/internal/eventbus"
	"tgsbot/internal/transport"
	"tgsbot/pkg/logx"
)

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sender:  sender,
		bus:     bus,
		log:     log.With(logx.String("comp", "broadcast")),
		queue:   make(chan Job, queueLen),
		sleep:   time.Sleep,
	}
}

// Apply swaps rate, retry and progress settings. Running jobs pick up the
// new values on their next recipient.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Submit queues a job for Run. It never blocks.
func (s *Service) Submit(j Job) error {
	select {
	case s.queue <- j:
		s.log.Debug("broadcast job queued", logx.String("job", j.ID), logx.Int("total", len(j.Recipients)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run executes queued jobs one at a time until ctx is done. A job that has
// started always runs to the end.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(s.queue); n > 0 {
				s.log.Warn("broadcast jobs not started before shutdown", logx.Int("jobs", n))
			}
			return nil
		case j := <-s.queue:
			if !s.begin() {
				s.log.Warn("broadcast job dropped at shutdown", logx.String("job", j.ID), logx.Int("total", len(j.Recipients)))
				return nil
			}
			func() {
				defer s.end()
				s.Dispatch(ctx, j)
			}()
		}
	}
}

// begin marks a dequeued job as running unless Wait was already called.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.active = true
	s.idle = make(chan struct{})
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.active = false
	close(s.idle)
	s.mu.Unlock()
}

// Wait stops further jobs from starting and blocks until the running job,
// if any, has finished or ctx expires.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	active, idle := s.active, s.idle
	s.mu.Unlock()
	if !active {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch sends the payload to every recipient in order and returns the tally.
func (s *Service) Dispatch(ctx context.Context, j Job) Tally {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	t := Tally{Total: len(j.Recipients)}
	log := s.log.With(logx.String("job", j.ID))
	log.Info("broadcast started", logx.Int("total", t.Total), logx.Bool("media", j.Payload.Media != nil))

	for i, id := range j.Recipients {
		if err := s.sendOne(ctx, j, id); err != nil {
			t.Failed++
		} else {
			t.Sent++
		}
		processed := i + 1
		cfg, _ := s.snapshot()
		if j.Status != nil && processed < t.Total && processed%cfg.ProgressEvery == 0 {
			_ = j.Status.Update(ctx, ProgressText(processed, t))
		}
	}

	if j.Status != nil {
		if err := j.Status.Finish(ctx, FinalText(t)); err != nil {
			log.Warn("final broadcast status failed", logx.Err(err))
		}
	}

	fields := []logx.Field{
		logx.Int("total", t.Total),
		logx.Int("sent", t.Sent),
		logx.Int("failed", t.Failed),
		logx.Duration("took", time.Since(start)),
	}
	if t.Failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastFinished, Data: eventbus.BroadcastFinished{
			JobID: j.ID, Sent: t.Sent, Failed: t.Failed, Total: t.Total,
		}})
	}
	return t
}

// sendOne delivers to one recipient. Only flood-waits are retried, since
// the platform then guarantees nothing was sent. A panic in the sender
// counts as a failure for this recipient only.
func (s *Service) sendOne(ctx context.Context, j Job, id int64) (err error) {
	to := transport.ChatTarget{ChatID: id}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in broadcast send", logx.String("job", j.ID), logx.Int64("chat_id", id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	cfg, lim := s.snapshot()
	var last error
	for attempt := 0; ; attempt++ {
		if lim != nil {
			_ = lim.Wait(ctx)
		}
		if last = s.deliver(ctx, to, j.Payload); last == nil {
			return nil
		}
		var rl *transport.RateLimitError
		if attempt >= cfg.RetryMax || !errors.As(last, &rl) {
			break
		}
		delay := min(max(rl.RetryAfter, time.Second), maxFloodWait)
		s.log.Warn("broadcast flood wait", logx.String("job", j.ID), logx.Int64("chat_id", id), logx.Int("attempt", attempt+2), logx.Duration("delay", delay))
		s.sleep(delay)
	}
	derr := &transport.DeliveryError{To: to, Err: last}
	s.log.Warn("broadcast send failed", logx.String("job", j.ID), logx.Err(derr))
	return derr
}

func (s *Service) deliver(ctx context.Context, to transport.ChatTarget, p Payload) error {
	if p.Media != nil {
		_, err := s.sender.SendMedia(ctx, to, *p.Media, p.Text, nil)
		return err
	}
	_, err := s.sender.SendText(ctx, to, p.Text, &transport.SendOptions{DisablePreview: true})
	return err
}
