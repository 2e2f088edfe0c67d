package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stayconnect/internal/config"
	"stayconnect/internal/control"
)

// loadConfig reads the config file without validating it. A missing file
// is fine for client commands; the environment still applies.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfigManager(path).Parse()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = &config.Config{}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// controlClient builds a client from --addr/--token, falling back to the
// control section of the config.
func controlClient(cmd *cobra.Command) (*control.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	if addr == "" || token == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Control.Addr
		}
		if token == "" {
			token = cfg.Control.Token
		}
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return control.NewClient(addr, token, &http.Client{Timeout: timeout}), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
