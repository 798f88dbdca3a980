package config

const (
	defaultMetricsBind        = "127.0.0.1:9477"
	defaultFTPPort            = 21
	defaultFTPPollInterval    = 30
	defaultFTPConnectTimeout  = 15
	defaultFTPIdleTimeout     = 120
	defaultFTPProbeInterval   = 20
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 10
	defaultHeartbeatTimeout   = 120
	defaultWatchdogInterval   = 30
	defaultMaxRetries         = 3
	defaultWorkersPerKind     = 1
	defaultFailedJobHistory   = 10
	defaultRecoveryPoll       = 60
	defaultRecoveryStatus     = 300
	defaultNotifyTimeout      = 10
	defaultNotifyPoll         = 5
)

// Default returns a configuration populated with built-in defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:  "~/.local/share/telecine/staging",
			LibraryDir:  "~/.local/share/telecine/library",
			LogDir:      "~/.local/share/telecine/logs",
			MetricsBind: defaultMetricsBind,
		},
		FTP: FTP{
			Port:           defaultFTPPort,
			RemoteDir:      "/",
			PollInterval:   defaultFTPPollInterval,
			ConnectTimeout: defaultFTPConnectTimeout,
			IdleTimeout:    defaultFTPIdleTimeout,
			ProbeInterval:  defaultFTPProbeInterval,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			WatchdogInterval:   defaultWatchdogInterval,
			MaxRetries:         defaultMaxRetries,
			WorkersPerKind:     defaultWorkersPerKind,
			FailedJobHistory:   defaultFailedJobHistory,
		},
		Recovery: Recovery{
			Enabled:        true,
			PollInterval:   defaultRecoveryPoll,
			StatusInterval: defaultRecoveryStatus,
		},
		Processing: Processing{
			Command: "ffmpeg",
		},
		Transcription: Transcription{
			Command: "whisper",
			Model:   "large-v3",
		},
		Analysis: Analysis{
			Command: "vlm-describe",
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			PollInterval:   defaultNotifyPoll,
			Failures:       true,
			Completions:    true,
			Recovery:       false,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
