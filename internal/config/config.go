// Package config provides configuration management for the ClipFlow client.
//
// Values come from repository defaults, then an optional TOML file, then
// CLIPFLOW_* environment variables. The result is normalized (tilde
// expansion, trimmed URLs, canonical extensions) and validated before use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

const (
	// Environment variable names
	EnvBackendURL = "CLIPFLOW_BACKEND_URL"
	EnvVariant    = "CLIPFLOW_VARIANT"
	EnvLogLevel   = "CLIPFLOW_LOG_LEVEL"
	EnvLogFormat  = "CLIPFLOW_LOG_FORMAT"
	EnvDataDir    = "CLIPFLOW_DATA_DIR"
	EnvPort       = "CLIPFLOW_PORT"
	EnvAPIToken   = "CLIPFLOW_API_TOKEN"

	// Database filename
	DBFilename = "clipflow.db"
	// Lock file guarding a single `clipflow serve` per data dir
	LockFilename = "clipflow.lock"
)

// Backend variants. A streamed backend acknowledges the start request and
// reports progress over a WebSocket; a synchronous backend answers the start
// request with the final result.
const (
	VariantStreamed = "streamed"
	VariantSync     = "sync"
)

// Backend describes how to reach the ClipFlow backend.
type Backend struct {
	URL            string `toml:"url"`
	Variant        string `toml:"variant"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ClipsPath      string `toml:"clips_path"`
	ProcessPath    string `toml:"process_path"`
}

// Upload holds local pre-checks applied before a file is sent.
type Upload struct {
	MaxFileBytes      int64    `toml:"max_file_bytes"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Paths contains local directories.
type Paths struct {
	DataDir string `toml:"data_dir"`
}

// API configures the local control API started by `clipflow serve`.
type API struct {
	Port  int    `toml:"port"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for the client.
type Config struct {
	Backend Backend `toml:"backend"`
	Upload  Upload  `toml:"upload"`
	Paths   Paths   `toml:"paths"`
	API     API     `toml:"api"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file, then applies
// environment overrides. It returns the config, the resolved file path and
// whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv(EnvVariant); v != "" {
		c.Backend.Variant = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.API.Token = v
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.API.Port = port
	}
	return nil
}

// DataDir returns the data directory path
func (c *Config) DataDir() string {
	return c.Paths.DataDir
}

// DBPath returns the full path to the SQLite history database
func (c *Config) DBPath() string {
	return filepath.Join(c.Paths.DataDir, DBFilename)
}

// LockPath returns the path of the serve lock file
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, LockFilename)
}

// HTTPTimeout returns the per-request timeout used for backend calls.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// Streamed reports whether the backend pushes progress over a WebSocket.
func (c *Config) Streamed() bool {
	return c.Backend.Variant == VariantStreamed
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.DataDir, err)
	}
	return nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
