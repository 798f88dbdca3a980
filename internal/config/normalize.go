package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeFTP()
	c.normalizeWorkflow()
	c.normalizeRecovery()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	return nil
}

func (c *Config) normalizeFTP() {
	c.FTP.Host = strings.TrimSpace(c.FTP.Host)
	if c.FTP.Password == "" {
		if value, ok := os.LookupEnv("TELECINE_FTP_PASSWORD"); ok {
			c.FTP.Password = value
		}
	}
	if c.FTP.Port <= 0 {
		c.FTP.Port = defaultFTPPort
	}
	c.FTP.RemoteDir = strings.TrimSpace(c.FTP.RemoteDir)
	if c.FTP.RemoteDir == "" {
		c.FTP.RemoteDir = "/"
	}
	if c.FTP.PollInterval <= 0 {
		c.FTP.PollInterval = defaultFTPPollInterval
	}
	if c.FTP.ConnectTimeout <= 0 {
		c.FTP.ConnectTimeout = defaultFTPConnectTimeout
	}
	if c.FTP.IdleTimeout <= 0 {
		c.FTP.IdleTimeout = defaultFTPIdleTimeout
	}
	if c.FTP.ProbeInterval <= 0 {
		c.FTP.ProbeInterval = defaultFTPProbeInterval
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.WatchdogInterval <= 0 {
		c.Workflow.WatchdogInterval = defaultWatchdogInterval
	}
	if c.Workflow.MaxRetries <= 0 {
		c.Workflow.MaxRetries = defaultMaxRetries
	}
	if c.Workflow.WorkersPerKind <= 0 {
		c.Workflow.WorkersPerKind = defaultWorkersPerKind
	}
	if c.Workflow.FailedJobHistory <= 0 {
		c.Workflow.FailedJobHistory = defaultFailedJobHistory
	}
}

func (c *Config) normalizeRecovery() {
	if c.Recovery.PollInterval <= 0 {
		c.Recovery.PollInterval = defaultRecoveryPoll
	}
	if c.Recovery.StatusInterval <= 0 {
		c.Recovery.StatusInterval = defaultRecoveryStatus
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
	if c.Notifications.PollInterval <= 0 {
		c.Notifications.PollInterval = defaultNotifyPoll
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
