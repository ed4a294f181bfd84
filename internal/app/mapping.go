package app

import (
	"strconv"
	"strings"

	"tgsbot/internal/broadcast"
	"tgsbot/internal/config"
	"tgsbot/internal/convert"
	"tgsbot/internal/observability/report"
	"tgsbot/internal/storage"
	"tgsbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	d := cfg.ParseDurations()
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: d.BusyTimeout,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 disables the Telegram log sink.
func logTarget(cfg *config.Config) int64 {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		RatePerSec:    cfg.Broadcast.RatePerSec,
		RetryMax:      cfg.Broadcast.RetryMax,
		ProgressEvery: cfg.Broadcast.ProgressEvery,
	}
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		DSN:         strings.TrimSpace(cfg.Sentry.DSN),
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
	}
}

func newRunner(cfg *config.Config) convert.Runner {
	return &convert.ExecRunner{
		Command: append([]string(nil), cfg.Convert.Command...),
		Timeout: cfg.ParseDurations().ConvertTimeout,
	}
}
