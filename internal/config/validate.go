package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateDrive(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.APIBind != "" {
		if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
			return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
		}
	}
	return nil
}

func (c *Config) validateTools() error {
	for key, value := range map[string]string{
		"tools.lsscsi":  c.Tools.Lsscsi,
		"tools.blkid":   c.Tools.Blkid,
		"tools.isoinfo": c.Tools.Isoinfo,
		"tools.eject":   c.Tools.Eject,
	} {
		if value == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.Tools.InventoryStripTrailing < 0 || c.Tools.InventoryStripTrailing > maximumInventoryStripCount {
		return fmt.Errorf("tools.inventory_strip_trailing must be between 0 and %d", maximumInventoryStripCount)
	}
	return ensurePositiveMap(map[string]int{
		"tools.command_timeout": c.Tools.CommandTimeout,
	})
}

func (c *Config) validateDrive() error {
	if err := ensurePositiveMap(map[string]int{
		"drive.poll_interval":     c.Drive.PollInterval,
		"drive.actuator_attempts": c.Drive.ActuatorAttempts,
	}); err != nil {
		return err
	}
	if c.Drive.BufferSize.Bytes() < minimumBufferSize {
		return fmt.Errorf("drive.buffer_size must be at least %d bytes", minimumBufferSize)
	}
	if c.Drive.ActuatorDelay < 0 {
		return errors.New("drive.actuator_delay must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if !strings.HasPrefix(c.Notifications.NtfyTopic, "http://") && !strings.HasPrefix(c.Notifications.NtfyTopic, "https://") {
		return errors.New("notifications.ntfy_topic must be a full http(s) URL")
	}
	return ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
