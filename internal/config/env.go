package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Environment variables that win over the file.
const (
	EnvClientID     = "SPOTIFY_CLIENT_ID"
	EnvClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvQueueEnabled = "QUEUE_ENABLED"
	EnvControlToken = "CRON_API_KEY"
	EnvDBPath       = "STAYCONNECT_DB_PATH"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays the process environment on cfg.
func ApplyEnv(cfg *Config) error { return applyEnv(cfg, os.LookupEnv) }

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvClientID); ok {
		cfg.Catalog.ClientID = v
	}
	if v, ok := get(EnvClientSecret); ok {
		cfg.Catalog.ClientSecret = v
	}
	if v, ok := get(EnvControlToken); ok {
		cfg.Control.Token = v
	}
	if v, ok := get(EnvDBPath); ok {
		cfg.Storage.Path = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if v, ok := get(EnvQueueEnabled); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s: invalid boolean %q", EnvQueueEnabled, v)
		}
		cfg.Queue.Enabled = b
	}
	return nil
}
