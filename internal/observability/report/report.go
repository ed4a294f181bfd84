// Package report forwards unexpected errors to Sentry when a DSN is set.
// Without a DSN every call is a no-op.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"tgsbot/pkg/logx"
)

type Config struct {
	DSN         string
	Environment string
	Release     string
}

type Reporter struct {
	hub *sentry.Hub
	log logx.Logger
}

// Nop returns a Reporter that drops everything.
func Nop() *Reporter { return &Reporter{} }

func New(cfg Config, log logx.Logger) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{log: log}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	log.Info("sentry reporting enabled", logx.String("environment", cfg.Environment))
	return &Reporter{hub: hub, log: log}, nil
}

func (r *Reporter) Enabled() bool { return r != nil && r.hub != nil }

// Capture sends err with the given tags.
func (r *Reporter) Capture(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

// Recovered reports a recovered panic value.
func (r *Reporter) Recovered(v any, tags map[string]string) {
	if !r.Enabled() {
		return
	}
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.RecoverWithContext(context.Background(), v)
	})
}

// Flush waits up to timeout for queued events.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.Enabled() {
		return true
	}
	return r.hub.Flush(timeout)
}
