// Package config provides configuration loading and the agent environment
// contract.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current supported config schema version.
const Version = 1

// Duration wraps time.Duration so TOML values can be written as strings
// like "2h" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the installation configuration stored in cortex.toml at the
// installation root. The file doubles as the root marker.
type Config struct {
	Version int `toml:"version"`

	// DefaultUser is the profile commands operate on when --user is not
	// given and CORTEX_USER is unset.
	DefaultUser string `toml:"default_user"`

	Lock struct {
		// StaleAfter is how old a lock heartbeat may be before another
		// process is allowed to break the lock.
		StaleAfter Duration `toml:"stale_after"`
	} `toml:"lock"`

	Daemon struct {
		HeartbeatInterval Duration `toml:"heartbeat_interval"`
		PollInterval      Duration `toml:"poll_interval"`

		// Retry policy for mode descriptor reads.
		RetryMaxAttempts  int      `toml:"retry_max_attempts"`
		RetryInitialDelay Duration `toml:"retry_initial_delay"`
		RetryMaxDelay     Duration `toml:"retry_max_delay"`
	} `toml:"daemon"`

	Agents struct {
		// Default restricts which catalog agents the daemon manages.
		// Absent means all catalog agents; an explicit empty list
		// disables all of them.
		Default []string `toml:"default"`

		// GracePeriod is how long a stopping agent gets between SIGTERM
		// and SIGKILL.
		GracePeriod Duration `toml:"grace_period"`

		// SettleDelay is how long the daemon waits after leaving
		// headless mode before restarting agents.
		SettleDelay Duration `toml:"settle_delay"`
	} `toml:"agents"`
}

// Default returns a config populated with the stock values.
func Default() *Config {
	cfg := &Config{Version: Version}
	cfg.Lock.StaleAfter = Duration{2 * time.Hour}
	cfg.Daemon.HeartbeatInterval = Duration{time.Minute}
	cfg.Daemon.PollInterval = Duration{30 * time.Second}
	cfg.Daemon.RetryMaxAttempts = 5
	cfg.Daemon.RetryInitialDelay = Duration{500 * time.Millisecond}
	cfg.Daemon.RetryMaxDelay = Duration{30 * time.Second}
	cfg.Agents.GracePeriod = Duration{5 * time.Second}
	cfg.Agents.SettleDelay = Duration{2 * time.Second}
	return cfg
}

// Load reads and parses the config at path. Missing optional keys fall back
// to defaults. A missing file yields the stock config: root discovery has
// already proven the installation exists.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Validate ensures the config uses a supported version.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return fmt.Errorf("config version missing (expected %d)", Version)
	}
	if c.Version != Version {
		return fmt.Errorf("unsupported config version %d (expected %d)", c.Version, Version)
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Lock.StaleAfter.Duration <= 0 {
		c.Lock.StaleAfter = def.Lock.StaleAfter
	}
	if c.Daemon.HeartbeatInterval.Duration <= 0 {
		c.Daemon.HeartbeatInterval = def.Daemon.HeartbeatInterval
	}
	if c.Daemon.PollInterval.Duration <= 0 {
		c.Daemon.PollInterval = def.Daemon.PollInterval
	}
	if c.Daemon.RetryMaxAttempts <= 0 {
		c.Daemon.RetryMaxAttempts = def.Daemon.RetryMaxAttempts
	}
	if c.Daemon.RetryInitialDelay.Duration <= 0 {
		c.Daemon.RetryInitialDelay = def.Daemon.RetryInitialDelay
	}
	if c.Daemon.RetryMaxDelay.Duration <= 0 {
		c.Daemon.RetryMaxDelay = def.Daemon.RetryMaxDelay
	}
	if c.Agents.GracePeriod.Duration <= 0 {
		c.Agents.GracePeriod = def.Agents.GracePeriod
	}
	if c.Agents.SettleDelay.Duration <= 0 {
		c.Agents.SettleDelay = def.Agents.SettleDelay
	}
}

// DefaultTOML is the config written by "cortex init". The commented lines
// document the stock values without pinning them.
const DefaultTOML = `# cortex installation configuration.
# This file also marks the installation root.
version = 1

# Profile used when --user is not given and CORTEX_USER is unset.
default_user = %q

[lock]
# How old a lock heartbeat may be before the lock is considered stale
# and eligible for healing.
# stale_after = "2h"

[daemon]
# heartbeat_interval = "1m"
# poll_interval = "30s"
# Retry policy for mode descriptor reads.
# retry_max_attempts = 5
# retry_initial_delay = "500ms"
# retry_max_delay = "30s"

[agents]
# Restrict which agents the daemon manages. Absent means all of them.
# default = ["memory-curator", "dream-generator", "question-asker"]
# Grace period between SIGTERM and SIGKILL when stopping an agent.
# grace_period = "5s"
# How long to wait after leaving headless mode before restarting agents.
# settle_delay = "2s"
`

// WriteDefault writes the stock config to path with the given default user.
// It refuses to overwrite an existing file.
func WriteDefault(path, defaultUser string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	content := fmt.Sprintf(DefaultTOML, defaultUser)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
