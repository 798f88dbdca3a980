package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFTP(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.LibraryDir == "" {
		return errors.New("paths.library_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateFTP() error {
	if c.FTP.Host == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/telecine/config.toml"
		}
		return fmt.Errorf("ftp.host is required. Edit %s (create with 'telecine config init')", defaultPath)
	}
	if c.FTP.Port <= 0 || c.FTP.Port > 65535 {
		return fmt.Errorf("ftp.port %d is out of range", c.FTP.Port)
	}
	if strings.TrimSpace(c.FTP.Username) == "" {
		return errors.New("ftp.username must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.MaxRetries > 10 {
		return errors.New("workflow.max_retries must be 10 or fewer")
	}
	return nil
}

func (c *Config) validateStages() error {
	if strings.TrimSpace(c.Processing.Command) == "" {
		return errors.New("processing.command must be set")
	}
	if c.Transcription.Enabled && strings.TrimSpace(c.Transcription.Command) == "" {
		return errors.New("transcription.command must be set when transcription.enabled is true")
	}
	if c.Analysis.Enabled && strings.TrimSpace(c.Analysis.Command) == "" {
		return errors.New("analysis.command must be set when analysis.enabled is true")
	}
	if c.Analysis.Enabled && !c.Transcription.Enabled {
		return errors.New("analysis.enabled requires transcription.enabled")
	}
	return nil
}
