package config

// Config is the root of config.json / config.yaml.
//
// All durations are Go duration strings ("500ms", "2s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Batch     BatchConfig     `json:"batch"`
	Convert   ConvertConfig   `json:"convert"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Sentry    SentryConfig    `json:"sentry,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token" validate:"required"`
	AdminIDs []int64 `json:"admin_ids" validate:"min=1,dive,gt=0"`
	// GroupLog is the chat id (as a string) that receives mirrored log lines.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects the user registry backend.
//
//	"storage": { "driver": "sqlite", "path": "bot_database.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=sqlite postgres memory"`
	Path        string `json:"path,omitempty" validate:"required_if=Driver sqlite"`
	DSN         string `json:"dsn,omitempty" validate:"required_if=Driver postgres"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type BatchConfig struct {
	// Debounce is the quiet period after the last document before a batch flushes.
	Debounce            string `json:"debounce,omitempty"`
	DownloadConcurrency int    `json:"download_concurrency,omitempty" validate:"gte=0,lte=16"`
}

type ConvertConfig struct {
	// Command is the converter argv prefix; input, output and flags are appended.
	Command             []string    `json:"command,omitempty"`
	Timeout             string      `json:"timeout,omitempty"`
	TempDir             string      `json:"temp_dir,omitempty"`
	MaxInputBytes       int64       `json:"max_input_bytes,omitempty" validate:"gte=0"`
	AdvisoryOutputBytes int64       `json:"advisory_output_bytes,omitempty" validate:"gte=0"`
	Sweep               SweepConfig `json:"sweep"`
}

type SweepConfig struct {
	Schedule string `json:"schedule,omitempty"`
	MaxAge   string `json:"max_age,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec    int `json:"rate_per_sec,omitempty" validate:"gte=0"`
	RetryMax      int `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
	ProgressEvery int `json:"progress_every,omitempty" validate:"gte=0"`
}

type SentryConfig struct {
	DSN         string `json:"dsn,omitempty"`
	Environment string `json:"environment,omitempty"`
	Release     string `json:"release,omitempty"`
}

const (
	DefaultDatabasePath        = "bot_database.db"
	DefaultDebounce            = "2s"
	DefaultDownloadConcurrency = 4
	DefaultConvertTimeout      = "60s"
	DefaultMaxInputBytes       = 5 << 20
	DefaultAdvisoryOutputBytes = 64 << 10
	DefaultSweepSchedule       = "@hourly"
	DefaultSweepMaxAge         = "1h"
	DefaultBroadcastRate       = 20
	DefaultBroadcastRetry      = 2
	DefaultProgressEvery       = 10
	DefaultPollTimeout         = "10s"
)

// DefaultConvertCommand is the converter used when convert.command is empty.
var DefaultConvertCommand = []string{"lottie_convert.py"}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = DefaultDatabasePath
	}
	if c.Batch.Debounce == "" {
		c.Batch.Debounce = DefaultDebounce
	}
	if c.Batch.DownloadConcurrency == 0 {
		c.Batch.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if len(c.Convert.Command) == 0 {
		c.Convert.Command = append([]string(nil), DefaultConvertCommand...)
	}
	if c.Convert.Timeout == "" {
		c.Convert.Timeout = DefaultConvertTimeout
	}
	if c.Convert.MaxInputBytes == 0 {
		c.Convert.MaxInputBytes = DefaultMaxInputBytes
	}
	if c.Convert.AdvisoryOutputBytes == 0 {
		c.Convert.AdvisoryOutputBytes = DefaultAdvisoryOutputBytes
	}
	if c.Convert.Sweep.Schedule == "" {
		c.Convert.Sweep.Schedule = DefaultSweepSchedule
	}
	if c.Convert.Sweep.MaxAge == "" {
		c.Convert.Sweep.MaxAge = DefaultSweepMaxAge
	}
	if c.Broadcast.RatePerSec == 0 {
		c.Broadcast.RatePerSec = DefaultBroadcastRate
	}
	if c.Broadcast.ProgressEvery == 0 {
		c.Broadcast.ProgressEvery = DefaultProgressEvery
	}
}

// IsAdmin reports whether id is listed in telegram.admin_ids.
func (c *Config) IsAdmin(id int64) bool {
	if c == nil {
		return false
	}
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
