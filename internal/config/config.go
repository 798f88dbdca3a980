package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir  string `toml:"staging_dir"`
	LibraryDir  string `toml:"library_dir"`
	LogDir      string `toml:"log_dir"`
	MetricsBind string `toml:"metrics_bind"`
}

// FTP contains configuration for the studio FTP source.
type FTP struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	RemoteDir      string `toml:"remote_dir"`
	PollInterval   int    `toml:"poll_interval"`
	ConnectTimeout int    `toml:"connect_timeout"`
	IdleTimeout    int    `toml:"idle_timeout"`
	ProbeInterval  int    `toml:"probe_interval"`
}

// Workflow contains daemon timing, retry, and concurrency settings.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	WatchdogInterval   int `toml:"watchdog_interval"`
	MaxRetries         int `toml:"max_retries"`
	WorkersPerKind     int `toml:"workers_per_kind"`
	FailedJobHistory   int `toml:"failed_job_history"`
}

// Recovery contains settings for the automatic failure recovery loop.
type Recovery struct {
	Enabled        bool `toml:"enabled"`
	PollInterval   int  `toml:"poll_interval"`
	StatusInterval int  `toml:"status_interval"`
}

// Processing contains configuration for the enhancement pipeline stage.
type Processing struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Transcription contains configuration for the optional transcription stage.
type Transcription struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
	Model   string `toml:"model"`
}

// Analysis contains configuration for the optional AI analysis stage.
type Analysis struct {
	Enabled bool   `toml:"enabled"`
	Command string `toml:"command"`
	Model   string `toml:"model"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	PollInterval   int    `toml:"poll_interval"`
	Failures       bool   `toml:"failures"`
	Completions    bool   `toml:"completions"`
	Recovery       bool   `toml:"recovery"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for telecine.
//
// Configuration sections by subsystem:
//   - Paths: staging/library/log directories and the metrics bind address
//   - FTP: studio source connection and polling
//   - Workflow: queue polling, heartbeats, retries, concurrency
//   - Recovery: automatic retry of failed files
//   - Processing: enhancement pipeline command
//   - Transcription / Analysis: optional GPU-bound stages
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	FTP           FTP           `toml:"ftp"`
	Workflow      Workflow      `toml:"workflow"`
	Recovery      Recovery      `toml:"recovery"`
	Processing    Processing    `toml:"processing"`
	Transcription Transcription `toml:"transcription"`
	Analysis      Analysis      `toml:"analysis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/telecine/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
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

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("telecine.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is created on a best-effort basis so the daemon can run when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	required := []string{c.Paths.StagingDir, c.Paths.LogDir}
	for _, dir := range required {
		if strings.TrimSpace(dir) == "" {
			return errors.New("config directories must not be empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	return abs, nil
}
