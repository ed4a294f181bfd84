package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides, applied on top of the file on every parse.
const (
	EnvBotToken     = "BOT_TOKEN"
	EnvAdminID      = "ADMIN_ID"
	EnvDatabasePath = "DATABASE_PATH"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &ConfigurationError{Field: p, Msg: "invalid dotenv file", Err: err}
		}
	}
	return nil
}

// applyEnv overlays BOT_TOKEN, ADMIN_ID and DATABASE_PATH.
// ADMIN_ID accepts a comma separated list.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBotToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAdminID); ok && strings.TrimSpace(v) != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return &ConfigurationError{Field: EnvAdminID, Msg: "invalid admin id list", Err: err}
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v, ok := lookup(EnvDatabasePath); ok && strings.TrimSpace(v) != "" {
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "sqlite"
		}
		cfg.Storage.Path = strings.TrimSpace(v)
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
