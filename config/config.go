// Package config loads environment variables and provides a typed Config used across the service.
// Required credentials are validated at startup; the process should refuse to boot without them.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minRosterRefresh is the floor for the roster refresh interval. Refreshing the
// moderator/VIP roster hits two paginated Helix endpoints, so it never runs
// more often than this.
const minRosterRefresh = 30 * time.Second

type Config struct {
	// Twitch
	BotUsername  string `env:"TWITCH_BOT_USERNAME"`
	OAuthToken   string `env:"TWITCH_OAUTH_TOKEN"`
	Channel      string `env:"TWITCH_CHANNEL"`
	ClientID     string `env:"TWITCH_CLIENT_ID"`
	ClientSecret string `env:"TWITCH_CLIENT_SECRET"`

	// Quote backend (OpenAI-compatible chat completions)
	QuoteAPIKey    string `env:"QUOTE_API_KEY"`
	QuoteAPIURL    string `env:"QUOTE_API_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	QuoteModel     string `env:"QUOTE_MODEL" envDefault:"gpt-4o-mini"`
	QuoteCacheSize int    `env:"QUOTE_CACHE_SIZE" envDefault:"10"`

	// Scheduling
	PollSeconds       int `env:"PRESENCE_POLL_SECONDS" envDefault:"10"`
	RefreshSeconds    int `env:"ROSTER_REFRESH_SECONDS" envDefault:"300"`
	MetricsLogSeconds int `env:"METRICS_LOG_SECONDS" envDefault:"60"`

	// Roster
	RoleLabelsJSON string   `env:"ROLE_LABELS"`
	BotLogins      []string `env:"BOT_LOGINS" envSeparator:","`

	// Server / logging
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// RoleLabels maps a Twitch user ID to a human-readable shift label.
	// Parsed from ROLE_LABELS; absent entries mean the identity has no label.
	RoleLabels map[string]string `env:"-"`
}

// Load reads environment variables, applies defaults, and validates required
// settings. Secrets are never echoed back in error messages.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var missing []string
	for _, f := range []struct{ name, val string }{
		{"TWITCH_BOT_USERNAME", cfg.BotUsername},
		{"TWITCH_OAUTH_TOKEN", cfg.OAuthToken},
		{"TWITCH_CHANNEL", cfg.Channel},
		{"TWITCH_CLIENT_ID", cfg.ClientID},
		{"TWITCH_CLIENT_SECRET", cfg.ClientSecret},
		{"QUOTE_API_KEY", cfg.QuoteAPIKey},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "error", "warn", "info", "debug":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL %q (want error|warn|info|debug)", cfg.LogLevel)
	}

	if cfg.PollSeconds <= 0 {
		return nil, fmt.Errorf("PRESENCE_POLL_SECONDS must be positive, got %d", cfg.PollSeconds)
	}
	if cfg.RefreshSeconds <= 0 {
		return nil, fmt.Errorf("ROSTER_REFRESH_SECONDS must be positive, got %d", cfg.RefreshSeconds)
	}
	if cfg.QuoteCacheSize <= 0 {
		return nil, fmt.Errorf("QUOTE_CACHE_SIZE must be positive, got %d", cfg.QuoteCacheSize)
	}
	if cfg.RefreshInterval() < minRosterRefresh {
		slog.Warn("ROSTER_REFRESH_SECONDS below floor; clamping",
			slog.Int("requested", cfg.RefreshSeconds),
			slog.Duration("floor", minRosterRefresh))
		cfg.RefreshSeconds = int(minRosterRefresh / time.Second)
	}

	cfg.Channel = strings.ToLower(strings.TrimSpace(cfg.Channel))
	cfg.BotUsername = strings.ToLower(strings.TrimSpace(cfg.BotUsername))

	cfg.RoleLabels = map[string]string{}
	if cfg.RoleLabelsJSON != "" {
		if err := json.Unmarshal([]byte(cfg.RoleLabelsJSON), &cfg.RoleLabels); err != nil {
			return nil, fmt.Errorf("invalid ROLE_LABELS (want JSON object of id->label): %w", err)
		}
	}

	for i, login := range cfg.BotLogins {
		cfg.BotLogins[i] = strings.ToLower(strings.TrimSpace(login))
	}

	return cfg, nil
}

// PollInterval is how often chat presence is re-derived for every tracked identity.
func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollSeconds) * time.Second }

// RefreshInterval is how often the moderator/VIP roster is re-fetched.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// MetricsInterval is how often the engine logs a metrics summary line.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsLogSeconds) * time.Second
}

// IRCToken returns the chat token in the oauth:-prefixed form the IRC library expects.
func (c *Config) IRCToken() string {
	if strings.HasPrefix(c.OAuthToken, "oauth:") {
		return c.OAuthToken
	}
	return "oauth:" + c.OAuthToken
}

// HelixToken returns the bot user token in bare form for Helix Authorization headers.
func (c *Config) HelixToken() string {
	return strings.TrimPrefix(c.OAuthToken, "oauth:")
}
