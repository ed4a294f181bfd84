package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tgsbot/internal/batch"
	"tgsbot/internal/broadcast"
	"tgsbot/internal/config"
	"tgsbot/internal/convert"
	"tgsbot/internal/eventbus"
	"tgsbot/internal/observability/report"
	"tgsbot/internal/runtime/supervisor"
	"tgsbot/internal/storage"
	kit "tgsbot/internal/transport"
	telegram "tgsbot/internal/transport/telegram/adapter"
	"tgsbot/internal/transport/telegram/router"
	"tgsbot/pkg/logx"
)

const (
	openTimeout  = 15 * time.Second
	drainTimeout = 45 * time.Second
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  storage.Registry
	errs *report.Reporter

	adapter kit.Adapter
	router  *router.Router
	bot     *router.Bot

	acc      *batch.Accumulator
	proc     *batch.Processor
	pipeline *convert.Pipeline
	casts    *broadcast.Service
	maint    *maintenance

	updates chan kit.Update
}

// New loads the config, opens the registry and wires every component.
// Configuration problems come back as *config.ConfigurationError.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d := cfg.ParseDurations()

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: d.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram log sink stays off until the target chat is known.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	errs, err := report.New(mapReportConfig(cfg), log.With(logx.String("comp", "report")))
	if err != nil {
		log.Warn("sentry disabled", logx.Err(err))
		errs = report.Nop()
	}

	octx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	reg, err := storage.Open(octx, mapStorageConfig(cfg), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	a, err := build(cfg, ad, reg, log, errs)
	if err != nil {
		_ = reg.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log.Info("config loaded", logx.String("path", cfgm.Path()), logx.String("summary", cfg.Describe()))
	return a, nil
}

// build wires the components around an adapter and registry.
func build(cfg *config.Config, ad kit.Adapter, reg storage.Registry, log logx.Logger, errs *report.Reporter) (*App, error) {
	d := cfg.ParseDurations()
	bus := eventbus.New()

	maint, err := newMaintenance(cfg.Convert.Sweep.Schedule, cfg.Convert.TempDir, d.SweepMaxAge, bus, log.With(logx.String("comp", "maintenance")))
	if err != nil {
		return nil, err
	}

	runner := newRunner(cfg)
	pipeline := convert.NewPipeline(runner, log.With(logx.String("comp", "convert")))
	pipeline.Update(runner, cfg.Convert.AdvisoryOutputBytes)

	proc := batch.NewProcessor(batch.ProcessorDeps{
		Transport: ad,
		Pipeline:  pipeline,
		Temp:      convert.TempDir{Dir: cfg.Convert.TempDir},
		Registry:  reg,
		Bus:       bus,
		Errors:    errs,
		Log:       log,
	})
	proc.SetLimits(cfg.Convert.MaxInputBytes, cfg.Batch.DownloadConcurrency)

	a := &App{
		log:      log.With(logx.String("comp", "app")),
		bus:      bus,
		reg:      reg,
		errs:     errs,
		adapter:  ad,
		proc:     proc,
		pipeline: pipeline,
		maint:    maint,
		updates:  make(chan kit.Update, 256),
	}

	a.acc = batch.NewAccumulator(batch.Options{
		Debounce:  d.Debounce,
		Messenger: ad,
		OnFlush: func(f batch.Flush) {
			a.proc.Process(a.runContext(), f)
		},
		Log: log.With(logx.String("comp", "batch")),
	})
	a.casts = broadcast.New(mapBroadcastConfig(cfg), ad, bus, log)
	a.router = router.New(log, ad, cfg.Telegram.AdminIDs)
	a.bot = router.NewBot(router.BotDeps{
		Adapter:    ad,
		Registry:   reg,
		Batches:    a.acc,
		Broadcasts: a.casts,
		Log:        log,
	})
	a.bot.SetMaxInput(cfg.Convert.MaxInputBytes)
	return a, nil
}

// runContext is the context flushed batches start from. Processing ignores
// its cancellation.
func (a *App) runContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.bot.Install(run, a.router)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.GoRestart("broadcast.worker", a.casts.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.maint.Start()
	a.sup.Go0("maintenance.initial_sweep", func(context.Context) { a.maint.sweep() })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		a.startReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

// applyConfig pushes a validated reload into the running components.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if ch.NeedsRestart {
		a.log.Warn("some changes take effect after a restart", logx.String("changed", strings.Join(ch.Sections, ",")))
	}

	if a.logs != nil {
		a.logs.SetTelegramTarget(logTarget(next), next.Logging.Telegram.ThreadID)
		a.logs.Apply(mapLogConfig(next))
	}

	d := next.ParseDurations()
	a.router.SetAdmins(next.Telegram.AdminIDs)
	a.acc.SetDebounce(d.Debounce)
	a.proc.SetLimits(next.Convert.MaxInputBytes, next.Batch.DownloadConcurrency)
	a.bot.SetMaxInput(next.Convert.MaxInputBytes)
	a.pipeline.Update(newRunner(next), next.Convert.AdvisoryOutputBytes)
	a.casts.Apply(mapBroadcastConfig(next))
	a.maint.SetMaxAge(d.SweepMaxAge)

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch.Sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop intake first; flushed batches and running broadcasts keep going.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("maintenance", time.Second, a.maint.Stop)
	step("batches", drainTimeout, a.acc.Drain)
	step("broadcast", 30*time.Second, a.casts.Wait)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("registry", time.Second, func(context.Context) error { return a.reg.Close() })
	step("report", 3*time.Second, func(c context.Context) error {
		timeout := 2 * time.Second
		if dl, ok := c.Deadline(); ok {
			timeout = time.Until(dl)
		}
		if !a.errs.Flush(timeout) {
			return fmt.Errorf("sentry flush timed out")
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
