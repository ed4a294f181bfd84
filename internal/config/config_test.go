package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLWithDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  admin_ids: [42]
batch:
  debounce: 3s
`)
	m := NewManager(p)
	m.SetEnvLookup(envMap(nil))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != DefaultDatabasePath {
		t.Fatalf("storage defaults: %+v", cfg.Storage)
	}
	if !reflect.DeepEqual(cfg.Convert.Command, DefaultConvertCommand) {
		t.Fatalf("command=%v", cfg.Convert.Command)
	}
	d := cfg.ParseDurations()
	if d.Debounce != 3*time.Second {
		t.Fatalf("debounce=%v", d.Debounce)
	}
	if cfg.Broadcast.ProgressEvery != 10 {
		t.Fatalf("progress_every=%d", cfg.Broadcast.ProgressEvery)
	}
	if !cfg.IsAdmin(42) || cfg.IsAdmin(7) {
		t.Fatalf("admin check wrong")
	}
}

func TestParseRetryMaxZeroDisablesRetries(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		body string
		want int
	}{
		{`{"telegram":{"token":"t","admin_ids":[1]}}`, DefaultBroadcastRetry},
		{`{"telegram":{"token":"t","admin_ids":[1]},"broadcast":{"retry_max":0}}`, 0},
		{`{"telegram":{"token":"t","admin_ids":[1]},"broadcast":{"retry_max":5}}`, 5},
	} {
		m := NewManager(writeFile(t, "config.json", tc.body))
		m.SetEnvLookup(envMap(nil))
		cfg, err := m.Parse()
		if err != nil {
			t.Fatalf("parse %s: %v", tc.body, err)
		}
		if cfg.Broadcast.RetryMax != tc.want {
			t.Fatalf("%s: retry_max=%d want %d", tc.body, cfg.Broadcast.RetryMax, tc.want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"t","admin_ids":[1]},"plugins":{}}`)
	m := NewManager(p)
	m.SetEnvLookup(envMap(nil))
	_, err := m.Parse()
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"t","admin_ids":[1]}}{}`)
	m := NewManager(p)
	m.SetEnvLookup(envMap(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected error for trailing data")
	}
}

func TestEnvOverridesAndMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetEnvLookup(envMap(map[string]string{
		EnvBotToken:     "999:zzz",
		EnvAdminID:      "10, 20",
		EnvDatabasePath: "/var/lib/tgsbot/users.db",
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "999:zzz" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual(cfg.Telegram.AdminIDs, []int64{10, 20}) {
		t.Fatalf("admins=%v", cfg.Telegram.AdminIDs)
	}
	if cfg.Storage.Path != "/var/lib/tgsbot/users.db" {
		t.Fatalf("path=%q", cfg.Storage.Path)
	}
}

func TestMissingCredentialsAreConfigurationErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"no token", map[string]string{EnvAdminID: "1"}, "telegram.token"},
		{"no admin", map[string]string{EnvBotToken: "t"}, "telegram.admin_ids"},
		{"bad admin", map[string]string{EnvBotToken: "t", EnvAdminID: "abc"}, EnvAdminID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager("")
			m.SetEnvLookup(envMap(tc.env))
			_, err := m.Parse()
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("want ConfigurationError, got %v", err)
			}
			if ce.Field != tc.field {
				t.Fatalf("field=%q want %q", ce.Field, tc.field)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t", AdminIDs: []int64{1}}}
		c.ApplyDefaults()
		return c
	}
	cases := []struct {
		name  string
		mut   func(c *Config)
		field string
	}{
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.Path = "" }, "storage.dsn"},
		{"debounce", func(c *Config) { c.Batch.Debounce = "soon" }, "batch.debounce"},
		{"cron", func(c *Config) { c.Convert.Sweep.Schedule = "every tuesday" }, "convert.sweep.schedule"},
		{"command", func(c *Config) { c.Convert.Command = []string{" "} }, "convert.command"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tc.mut(c)
			err := Validate(c)
			var ce *ConfigurationError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Fatalf("got %v, want field %q", err, tc.field)
			}
		})
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"t","admin_ids":[1]}}`)
	m := NewManager(p)
	m.SetEnvLookup(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	if published, err := m.Reload(); err != nil || published {
		t.Fatalf("unchanged reload published=%v err=%v", published, err)
	}
	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"t","admin_ids":[1,2]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if published, err := m.Reload(); err != nil || !published {
		t.Fatalf("changed reload published=%v err=%v", published, err)
	}
	got := <-sub
	if len(got.Telegram.AdminIDs) != 2 || m.Get() != got {
		t.Fatalf("subscriber got %+v", got.Telegram)
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); err == nil {
		t.Fatalf("invalid reload accepted")
	}
	if len(m.Get().Telegram.AdminIDs) != 2 {
		t.Fatalf("invalid reload replaced config")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "t", AdminIDs: []int64{1}}}
	a.ApplyDefaults()
	b := *a
	b.Batch.Debounce = "5s"
	b.Storage.Path = "other.db"

	ch := SummarizeChange(a, &b)
	if !reflect.DeepEqual(ch.Sections, []string{"batch", "storage"}) {
		t.Fatalf("sections=%v", ch.Sections)
	}
	if !ch.NeedsRestart {
		t.Fatalf("storage change should need restart")
	}
}
