package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// ConfigurationError is fatal at startup and causes a rejected reload afterwards.
type ConfigurationError struct {
	Field string // dotted json path, e.g. "telegram.token"
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct tags, durations and the sweep schedule. Call it after
// ApplyDefaults. The returned error is always a *ConfigurationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigurationError{Msg: "config is nil"}
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{Field: fieldPath(fe.Namespace()), Msg: describe(fe), Err: err}
		}
		return &ConfigurationError{Msg: err.Error(), Err: err}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"batch.debounce", cfg.Batch.Debounce},
		{"convert.timeout", cfg.Convert.Timeout},
		{"convert.sweep.max_age", cfg.Convert.Sweep.MaxAge},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return &ConfigurationError{Field: d.path, Msg: "invalid duration", Err: err}
		}
	}
	if d, _ := ParseDurationField("batch.debounce", cfg.Batch.Debounce); d <= 0 {
		return &ConfigurationError{Field: "batch.debounce", Msg: "must be > 0"}
	}

	if s := strings.TrimSpace(cfg.Convert.Sweep.Schedule); s != "" && s != "off" {
		if _, err := cron.ParseStandard(s); err != nil {
			return &ConfigurationError{Field: "convert.sweep.schedule", Msg: "invalid cron spec", Err: err}
		}
	}
	if len(cfg.Convert.Command) > 0 && strings.TrimSpace(cfg.Convert.Command[0]) == "" {
		return &ConfigurationError{Field: "convert.command", Msg: "first element must name the executable"}
	}
	return nil
}

// fieldPath drops the root type name: "Config.telegram.token" -> "telegram.token".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return "needs at least " + fe.Param() + " entry"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
	default:
		return "failed " + fe.Tag()
	}
}
