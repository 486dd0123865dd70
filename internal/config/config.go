// Package config provides configuration management for the denoise agent.
// Configuration is loaded from DENOISE_* environment variables through viper,
// optionally seeded from a .env file, with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort        = 8787
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".denoise-agent"
	DefaultProfile     = "Dev"
	DefaultHTTPTimeout = 60 * time.Second

	// Invoke transports
	TransportHTTP = "http"
	TransportGRPC = "grpc"

	// Environment variable names. Each is envPrefix + "_" + the upper-cased viper key.
	EnvPort        = "DENOISE_PORT"
	EnvLogLevel    = "DENOISE_LOG_LEVEL"
	EnvDataDir     = "DENOISE_DATA_DIR"
	EnvSettings    = "DENOISE_SETTINGS"
	EnvProfile     = "DENOISE_PROFILE"
	EnvTransport   = "DENOISE_TRANSPORT"
	EnvHTTPTimeout = "DENOISE_HTTP_TIMEOUT"
	EnvDownloadDir = "DENOISE_DOWNLOAD_DIR"
	EnvSentryDSN   = "DENOISE_SENTRY_DSN"
	EnvHeadless    = "DENOISE_HEADLESS"

	envPrefix = "DENOISE"

	keyPort        = "port"
	keyLogLevel    = "log_level"
	keyDataDir     = "data_dir"
	keySettings    = "settings"
	keyProfile     = "profile"
	keyTransport   = "transport"
	keyHTTPTimeout = "http_timeout"
	keyDownloadDir = "download_dir"
	keySentryDSN   = "sentry_dsn"
	keyHeadless    = "headless"

	// File names under the data directory
	DBFilename       = "denoise.db"
	SettingsFilename = "appsettings.json"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LogsDir() string
	DownloadDir() string
	SettingsPath() string
	Profile() string
	Transport() string
	HTTPTimeout() time.Duration
	SentryDSN() string
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	logLevel    string
	dataDir     string
	settings    string
	profile     string
	transport   string
	httpTimeout time.Duration
	downloadDir string
	sentryDSN   string
	headless    bool
}

// New loads an optional .env file from the working directory and then builds
// an EnvConfig from the environment.
func New() (*EnvConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv creates a new EnvConfig with defaults and environment variable overrides
func FromEnv() (*EnvConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault(keyPort, DefaultPort)
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetDefault(keyDataDir, defaultDataDir())
	v.SetDefault(keyProfile, DefaultProfile)
	v.SetDefault(keyTransport, TransportHTTP)
	v.SetDefault(keyHTTPTimeout, DefaultHTTPTimeout.String())
	v.SetDefault(keyHeadless, "false")

	cfg := &EnvConfig{
		logLevel:    v.GetString(keyLogLevel),
		dataDir:     v.GetString(keyDataDir),
		settings:    v.GetString(keySettings),
		profile:     strings.TrimSpace(v.GetString(keyProfile)),
		downloadDir: v.GetString(keyDownloadDir),
		sentryDSN:   v.GetString(keySentryDSN),
	}

	port, err := strconv.Atoi(v.GetString(keyPort))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	cfg.port = port

	if cfg.profile == "" {
		cfg.profile = DefaultProfile
	}

	tr := strings.ToLower(v.GetString(keyTransport))
	if tr != TransportHTTP && tr != TransportGRPC {
		return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvTransport, TransportHTTP, TransportGRPC)
	}
	cfg.transport = tr

	d, err := time.ParseDuration(v.GetString(keyHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvHTTPTimeout, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", EnvHTTPTimeout)
	}
	cfg.httpTimeout = d

	headless, err := strconv.ParseBool(v.GetString(keyHeadless))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
	}
	cfg.headless = headless

	return cfg, nil
}

// Port returns the local API server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LogsDir returns the directory holding the daily run CSV files
func (c *EnvConfig) LogsDir() string {
	return filepath.Join(c.dataDir, "logs")
}

// DownloadDir returns the root directory for downloaded results
func (c *EnvConfig) DownloadDir() string {
	if c.downloadDir != "" {
		return c.downloadDir
	}
	return filepath.Join(c.dataDir, "download")
}

// SettingsPath returns the path of the profile settings file
func (c *EnvConfig) SettingsPath() string {
	if c.settings != "" {
		return c.settings
	}
	return filepath.Join(c.dataDir, SettingsFilename)
}

// Profile returns the name of the profile selected at startup
func (c *EnvConfig) Profile() string {
	return c.profile
}

// Transport returns the invoke transport, "http" or "grpc"
func (c *EnvConfig) Transport() string {
	return c.transport
}

func (c *EnvConfig) HTTPTimeout() time.Duration {
	return c.httpTimeout
}

func (c *EnvConfig) SentryDSN() string {
	return c.sentryDSN
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
