package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tgsbot/internal/convert"
	"tgsbot/internal/eventbus"
	"tgsbot/pkg/logx"
)

// maintenance runs the temp sweep on a cron schedule. A schedule of "off"
// disables it.
type maintenance struct {
	dir    string
	maxAge atomic.Int64 // time.Duration
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	c *cron.Cron
}

func newMaintenance(spec, dir string, maxAge time.Duration, bus eventbus.Bus, log logx.Logger) (*maintenance, error) {
	m := &maintenance{dir: dir, bus: bus, log: log, now: time.Now}
	m.maxAge.Store(int64(maxAge))

	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "off" {
		return m, nil
	}
	cl := cronLogger{log: log}
	m.c = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := m.c.AddFunc(spec, func() { m.sweep() }); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	return m, nil
}

func (m *maintenance) SetMaxAge(d time.Duration) {
	if d > 0 {
		m.maxAge.Store(int64(d))
	}
}

func (m *maintenance) Start() {
	if m.c != nil {
		m.c.Start()
	}
}

func (m *maintenance) Stop(ctx context.Context) error {
	if m.c == nil {
		return nil
	}
	select {
	case <-m.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *maintenance) sweep() int {
	maxAge := time.Duration(m.maxAge.Load())
	removed, err := convert.SweepStale(m.dir, maxAge, m.now())
	if err != nil {
		m.log.Warn("temp sweep incomplete", logx.Int("removed", removed), logx.Err(err))
	}
	if removed > 0 {
		m.log.Info("stale temp files removed", logx.Int("removed", removed), logx.Duration("max_age", maxAge))
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeTempSwept, Data: eventbus.TempSwept{Removed: removed}})
	}
	return removed
}

type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
