// Package config loads shellbridge settings from a TOML file, environment
// overrides and built-in defaults, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/remote-agent-terminal/shellbridge/internal/bridge"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHELLBRIDGE_"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Loop     LoopConfig     `toml:"loop"`
	SSH      SSHConfig      `toml:"ssh"`
	Terminal TerminalConfig `toml:"terminal"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	DBPath string `toml:"db_path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

type LoopConfig struct {
	FlushInterval  time.Duration `toml:"flush_interval"`
	IdleSleep      time.Duration `toml:"idle_sleep"`
	ReadBufferSize int           `toml:"read_buffer_size"`
	QueueSize      int           `toml:"queue_size"`
	EventQueueSize int           `toml:"event_queue_size"`
	// Decode is "buffered" or "strict".
	Decode string `toml:"decode"`
}

type SSHConfig struct {
	DialTimeout    time.Duration `toml:"dial_timeout"`
	CloseTimeout   time.Duration `toml:"close_timeout"`
	TermType       string        `toml:"term_type"`
	KnownHostsFile string        `toml:"known_hosts_file"`
}

type TerminalConfig struct {
	Shell          string `toml:"shell"`
	ScrollbackSize int    `toml:"scrollback_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	loop := bridge.DefaultLoopConfig()
	return &Config{
		Server: ServerConfig{
			Addr:   ":8080",
			DBPath: "data/shellbridge.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Loop: LoopConfig{
			FlushInterval:  loop.FlushInterval,
			IdleSleep:      loop.IdleSleep,
			ReadBufferSize: loop.ReadBufferSize,
			QueueSize:      loop.QueueSize,
			EventQueueSize: loop.EventQueueSize,
			Decode:         "buffered",
		},
		SSH: SSHConfig{
			DialTimeout:  transport.DefaultDialTimeout,
			CloseTimeout: transport.DefaultCloseTimeout,
			TermType:     transport.DefaultTermType,
		},
		Terminal: TerminalConfig{
			Shell: defaultShell(),
		},
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("ADDR", &c.Server.Addr)
	str("DB_PATH", &c.Server.DBPath)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DECODE", &c.Loop.Decode)
	str("TERM_TYPE", &c.SSH.TermType)
	str("KNOWN_HOSTS", &c.SSH.KnownHostsFile)
	str("SHELL", &c.Terminal.Shell)

	for _, err := range []error{
		dur("FLUSH_INTERVAL", &c.Loop.FlushInterval),
		dur("IDLE_SLEEP", &c.Loop.IdleSleep),
		dur("DIAL_TIMEOUT", &c.SSH.DialTimeout),
		num("SCROLLBACK_SIZE", &c.Terminal.ScrollbackSize),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("server.addr is required")
	case c.Loop.FlushInterval <= 0:
		return fmt.Errorf("loop.flush_interval must be positive")
	case c.Loop.IdleSleep <= 0:
		return fmt.Errorf("loop.idle_sleep must be positive")
	case c.Loop.ReadBufferSize < 0, c.Loop.QueueSize < 0, c.Loop.EventQueueSize < 0:
		return fmt.Errorf("loop sizes must not be negative")
	case c.SSH.DialTimeout <= 0:
		return fmt.Errorf("ssh.dial_timeout must be positive")
	case c.Terminal.ScrollbackSize < 0:
		return fmt.Errorf("terminal.scrollback_size must not be negative")
	}
	if _, err := c.DecodePolicy(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// DecodePolicy parses Loop.Decode.
func (c *Config) DecodePolicy() (bridge.DecodePolicy, error) {
	switch strings.ToLower(c.Loop.Decode) {
	case "", "buffered":
		return bridge.DecodeBuffered, nil
	case "strict":
		return bridge.DecodeStrict, nil
	}
	return 0, fmt.Errorf("loop.decode must be buffered or strict, got %q", c.Loop.Decode)
}

// SessionConfig builds the session manager configuration.
func (c *Config) SessionConfig() session.Config {
	decode, _ := c.DecodePolicy()
	return session.Config{
		Loop: bridge.LoopConfig{
			FlushInterval:  c.Loop.FlushInterval,
			IdleSleep:      c.Loop.IdleSleep,
			ReadBufferSize: c.Loop.ReadBufferSize,
			QueueSize:      c.Loop.QueueSize,
			EventQueueSize: c.Loop.EventQueueSize,
		},
		Decode:         decode,
		ScrollbackSize: c.Terminal.ScrollbackSize,
		SSH:            c.SSHOptions(),
		Local:          transport.LocalOptions{Shell: c.Terminal.Shell},
	}
}

// SSHOptions builds the SSH transport options.
func (c *Config) SSHOptions() transport.SSHOptions {
	return transport.SSHOptions{
		DialTimeout:    c.SSH.DialTimeout,
		CloseTimeout:   c.SSH.CloseTimeout,
		TermType:       c.SSH.TermType,
		KnownHostsFile: c.SSH.KnownHostsFile,
	}
}
