// Package config loads the matchmaking core's configuration record, the
// same way the teacher's internal/config loads LoginServer/GameServer:
// sane Default() values, optional YAML override file, os.IsNotExist
// treated as "use defaults".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all host configuration for the matchmaking & queue core
// (spec §6 "Process boundaries").
type Config struct {
	// Introspection HTTP API (spec §4.8, §6).
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Client Channel WebSocket listener (transport/ws).
	ChannelBindAddress string `yaml:"channel_bind_address"`
	ChannelPort        int    `yaml:"channel_port"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Web-front cross-check (spec §4.3, §4.6 step 3).
	ConfirmJoinsWithWebfrontAPI bool   `yaml:"confirm_joins_with_webfront_api"`
	WebfrontBaseURL             string `yaml:"webfront_base_url"`
	WebfrontTimeout             time.Duration `yaml:"webfront_timeout"`
	WebfrontCacheTTL            time.Duration `yaml:"webfront_cache_ttl"`

	// Queueing Service tuning (spec §4.6, §9 open questions).
	QueueHardCap                  int           `yaml:"queue_hard_cap"`
	MaxJoinAttempts                int           `yaml:"max_join_attempts"`
	TotalJoinTimeLimit             time.Duration `yaml:"total_join_time_limit"`
	PacingInterval                 time.Duration `yaml:"pacing_interval"`
	IdleSleep                      time.Duration `yaml:"idle_sleep"`
	ProbeTimeout                   time.Duration `yaml:"probe_timeout"`
	ClearJoinAttemptsOnLateFailure bool          `yaml:"clear_join_attempts_on_late_failure"`

	// Matchmaking Service tuning (spec §4.7).
	MatchmakingTickInterval time.Duration `yaml:"matchmaking_tick_interval"`
	MatchmakingTimeout      time.Duration `yaml:"matchmaking_timeout"`
}

// Default returns Config with the defaults named throughout spec §4 and §9.
func Default() Config {
	return Config{
		BindAddress:                 "0.0.0.0",
		Port:                        8080,
		ChannelBindAddress:          "0.0.0.0",
		ChannelPort:                 8081,
		LogLevel:                    "info",
		ConfirmJoinsWithWebfrontAPI: false,
		WebfrontBaseURL:             "",
		WebfrontTimeout:             10 * time.Second,
		WebfrontCacheTTL:            2 * time.Second,
		QueueHardCap:                20,
		MaxJoinAttempts:             3,
		TotalJoinTimeLimit:          30 * time.Second,
		PacingInterval:              time.Second,
		IdleSleep:                   100 * time.Millisecond,
		ProbeTimeout:                10 * time.Second,
		ClearJoinAttemptsOnLateFailure: false,
		MatchmakingTickInterval:        500 * time.Millisecond,
		MatchmakingTimeout:             60 * time.Second,
	}
}

// JoinAttemptDeadline is the per-attempt NotifyJoin deadline: the total
// join time limit split evenly across the max attempts (spec §4.6: "10s
// with MAX_JOIN_ATTEMPTS = 3").
func (c Config) JoinAttemptDeadline() time.Duration {
	if c.MaxJoinAttempts <= 0 {
		return c.TotalJoinTimeLimit
	}
	return c.TotalJoinTimeLimit / time.Duration(c.MaxJoinAttempts)
}

// Load reads a YAML override file on top of Default(). A missing file is
// not an error: it yields plain defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
