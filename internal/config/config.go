// Package config resolves host configuration from three layers: built-in
// defaults, the global KDL config file, and environment variables, in
// ascending precedence. Environment wins because native-messaging hosts are
// usually launched by the browser with a fixed manifest and environment
// overrides are the only practical per-launch knob.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Run modes.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config holds the complete host configuration.
type Config struct {
	// RunMode is production or development. Development enables the
	// WebSocket companion endpoint so an extension can attach without a
	// native-messaging manifest.
	RunMode string

	// SSEPort is the streaming server's listen port.
	SSEPort int

	// SSEBaseURL is the externally visible URL of the SSE endpoint,
	// reported through the status surface.
	SSEBaseURL string

	// WSListen is the dev-mode companion WebSocket listen address. Empty
	// disables the endpoint regardless of run mode.
	WSListen string

	// Log controls file logging.
	Log LogConfig
}

// LogConfig holds logging configuration. Stdout and stderr belong to the
// native messaging wire, so logs always go to a file.
type LogConfig struct {
	// File is the log file path. Empty means Dir/brdg.log.
	File string
	// Dir is the log directory used when File is empty.
	Dir string
	// Level is a zap level name: debug, info, warn, error.
	Level string
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		RunMode:    ModeProduction,
		SSEPort:    9333,
		SSEBaseURL: "http://localhost:9333/sse",
		WSListen:   "127.0.0.1:9334",
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load resolves the effective configuration: defaults, then the global KDL
// file if present, then environment overrides.
func Load() (*Config, error) {
	cfg, err := loadGlobalFile()
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() {
	if v := os.Getenv("RUN_MODE"); v != "" {
		c.RunMode = v
	}
	if v := os.Getenv("SSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SSEPort = port
			c.SSEBaseURL = fmt.Sprintf("http://localhost:%d/sse", port)
		}
	}
	if v := os.Getenv("SSE_BASE_URL"); v != "" {
		c.SSEBaseURL = v
	}
	if v := os.Getenv("BRDG_WS_LISTEN"); v != "" {
		c.WSListen = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Log.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// ListenAddr is the streaming server's listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.SSEPort)
}

// Development reports whether the host runs in development mode.
func (c *Config) Development() bool {
	return c.RunMode == ModeDevelopment
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RunMode != ModeProduction && c.RunMode != ModeDevelopment {
		return fmt.Errorf("run mode %q is not %s or %s", c.RunMode, ModeProduction, ModeDevelopment)
	}
	if c.SSEPort < 1 || c.SSEPort > 65535 {
		return fmt.Errorf("sse port %d out of range", c.SSEPort)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
