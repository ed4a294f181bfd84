package config

import (
	"reflect"
	"sort"
	"strings"

	"tgsbot/pkg/logx"
)

// Change summarizes a reload for logging. Attrs never include secrets.
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// NeedsRestart is set when a section that is only read at startup changed.
	NeedsRestart bool
}

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if !reflect.DeepEqual(ot.AdminIDs, nt.AdminIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.PollTimeout != nt.PollTimeout ||
		ot.Token != nt.Token {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
		if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout {
			ch.NeedsRestart = true
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
		ch.NeedsRestart = true
	}

	if !reflect.DeepEqual(oldCfg.Batch, newCfg.Batch) {
		ch.Sections = append(ch.Sections, "batch")
		ch.Attrs = append(ch.Attrs,
			logx.String("batch.debounce", newCfg.Batch.Debounce),
			logx.Int("batch.download_concurrency", newCfg.Batch.DownloadConcurrency),
		)
	}

	if !reflect.DeepEqual(oldCfg.Convert, newCfg.Convert) {
		ch.Sections = append(ch.Sections, "convert")
		ch.Attrs = append(ch.Attrs,
			logx.String("convert.command", strings.Join(newCfg.Convert.Command, " ")),
			logx.String("convert.timeout", newCfg.Convert.Timeout),
			logx.Int64("convert.advisory_output_bytes", newCfg.Convert.AdvisoryOutputBytes),
		)
		if oldCfg.Convert.TempDir != newCfg.Convert.TempDir ||
			oldCfg.Convert.MaxInputBytes != newCfg.Convert.MaxInputBytes ||
			oldCfg.Convert.Sweep != newCfg.Convert.Sweep {
			ch.NeedsRestart = true
		}
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		ch.Sections = append(ch.Sections, "broadcast")
		ch.Attrs = append(ch.Attrs,
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.Int("broadcast.retry_max", newCfg.Broadcast.RetryMax),
			logx.Int("broadcast.progress_every", newCfg.Broadcast.ProgressEvery),
		)
	}

	if oldCfg.Sentry != newCfg.Sentry {
		ch.Sections = append(ch.Sections, "sentry")
		ch.NeedsRestart = true
	}

	sort.Strings(ch.Sections)
	return ch
}
