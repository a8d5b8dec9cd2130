package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the config file name under the brdg config directory.
const GlobalConfigFile = "config.kdl"

// kdlConfig is the KDL file structure. Uses kdl struct tags for
// unmarshaling.
type kdlConfig struct {
	RunMode string     `kdl:"run-mode"`
	Server  kdlServer  `kdl:"server"`
	Logging kdlLogging `kdl:"logging"`
}

type kdlServer struct {
	SSEPort    int    `kdl:"sse-port"`
	SSEBaseURL string `kdl:"sse-base-url"`
	WSListen   string `kdl:"ws-listen"`
}

type kdlLogging struct {
	File  string `kdl:"file"`
	Dir   string `kdl:"dir"`
	Level string `kdl:"level"`
}

// loadGlobalFile loads the global config file over the defaults. A missing
// file is not an error; a malformed one is.
func loadGlobalFile() (*Config, error) {
	path := GlobalConfigPath()
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseKDL(string(data))
}

// ParseKDL parses KDL configuration data over the defaults.
func ParseKDL(data string) (*Config, error) {
	var kc kdlConfig
	if err := kdl.Unmarshal([]byte(data), &kc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	if kc.RunMode != "" {
		cfg.RunMode = kc.RunMode
	}
	if kc.Server.SSEPort > 0 {
		cfg.SSEPort = kc.Server.SSEPort
		cfg.SSEBaseURL = fmt.Sprintf("http://localhost:%d/sse", kc.Server.SSEPort)
	}
	if kc.Server.SSEBaseURL != "" {
		cfg.SSEBaseURL = kc.Server.SSEBaseURL
	}
	if kc.Server.WSListen != "" {
		cfg.WSListen = kc.Server.WSListen
	}
	if kc.Logging.File != "" {
		cfg.Log.File = kc.Logging.File
	}
	if kc.Logging.Dir != "" {
		cfg.Log.Dir = kc.Logging.Dir
	}
	if kc.Logging.Level != "" {
		cfg.Log.Level = kc.Logging.Level
	}
	return cfg, nil
}

// GlobalConfigPath returns the path to the global config file, preferring
// XDG_CONFIG_HOME.
func GlobalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "brdg", GlobalConfigFile)
}

// WriteDefaultConfig writes a documented default config file.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// brdg configuration
// Environment variables override any value set here.

// production or development; development enables the companion
// WebSocket endpoint
run-mode "production"

server {
    // Streaming MCP server port (SSE_PORT)
    sse-port 9333
    // Externally visible SSE URL (SSE_BASE_URL)
    sse-base-url "http://localhost:9333/sse"
    // Dev-mode companion WebSocket address (BRDG_WS_LISTEN); "" disables
    ws-listen "127.0.0.1:9334"
}

logging {
    // Log file path (LOG_FILE); empty uses dir/brdg.log
    file ""
    // Log directory (LOG_DIR)
    dir ""
    // debug, info, warn, error (LOG_LEVEL)
    level "info"
}
`
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0o644)
}
