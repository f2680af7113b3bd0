package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError collects multiple config validation errors.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// HasErrors reports whether any errors were recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Add records a validation error.
func (e *ValidationError) Add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the config for semantic errors.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	validateNode(cfg, ve)
	validatePins(cfg, ve)
	validateNetwork(cfg, ve)
	validateTimeSync(cfg, ve)
	validateActions(cfg, ve)
	validateGateway(cfg, ve)
	validateMisc(cfg, ve)

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateNode(cfg *Config, ve *ValidationError) {
	switch cfg.Node.GPIOBackend {
	case "sim", "periph":
	default:
		ve.Add("node.gpio_backend %q is invalid (want sim or periph)", cfg.Node.GPIOBackend)
	}
	if cfg.Node.PWMFrequency < 0 {
		ve.Add("node.pwm_frequency must be >= 0")
	}
}

func validatePins(cfg *Config, ve *ValidationError) {
	if len(cfg.Pins) == 0 {
		ve.Add("pins must declare at least one pin")
	}
	seen := make(map[int]bool, len(cfg.Pins))
	for i, p := range cfg.Pins {
		if p.ID < 0 {
			ve.Add("pins[%d]: id must be >= 0", i)
		}
		if seen[p.ID] {
			ve.Add("pins[%d]: duplicate pin %d", i, p.ID)
		}
		seen[p.ID] = true
		if p.Initial != 0 && p.Initial != 1 {
			ve.Add("pins[%d]: initial must be 0 or 1", i)
		}
	}
	if cfg.Indicator.Enabled && !seen[cfg.Indicator.Pin] {
		ve.Add("indicator.pin %d is not declared in pins", cfg.Indicator.Pin)
	}
}

func validateNetwork(cfg *Config, ve *ValidationError) {
	n := cfg.Network
	switch n.Radio {
	case "sim", "command", "none":
	default:
		ve.Add("network.radio %q is invalid (want sim, command or none)", n.Radio)
	}
	if n.Station.PollInterval <= 0 {
		ve.Add("network.station.poll_interval must be > 0")
	}
	if n.Station.MaxAttempts <= 0 {
		ve.Add("network.station.max_attempts must be > 0")
	}
	if n.Station.SuccessPulse < 0 {
		ve.Add("network.station.success_pulse must be >= 0")
	}
	if n.Station.RetryInterval < 0 {
		ve.Add("network.station.retry_interval must be >= 0")
	}
	if n.AP.SSID == "" {
		ve.Add("network.ap.ssid is required")
	}
	if strings.HasPrefix(n.AP.Passphrase, encPrefix) || strings.HasPrefix(n.Station.Passphrase, encPrefix) {
		ve.Add("encrypted passphrase present but %s is not set", EnvKeyVar)
	} else if p := n.AP.Passphrase; p != "" && len(p) < 8 {
		ve.Add("network.ap.passphrase must be empty or at least 8 characters")
	}
	if n.AP.BlinkInterval <= 0 {
		ve.Add("network.ap.blink_interval must be > 0")
	}
	if n.AP.BlinkDuration < 0 {
		ve.Add("network.ap.blink_duration must be >= 0")
	}
	if n.Radio == "command" {
		if n.Interface == "" {
			ve.Add("network.interface is required for the command radio")
		}
		if n.Commands.Connect == "" || n.Commands.Check == "" || n.Commands.StartAP == "" {
			ve.Add("network.commands: connect, check and start_ap are required for the command radio")
		}
	}
}

func validateTimeSync(cfg *Config, ve *ValidationError) {
	ts := cfg.TimeSync
	if !ts.Enabled {
		return
	}
	if ts.Host == "" {
		ve.Add("timesync.host is required when timesync is enabled")
	}
	if ts.Timeout <= 0 {
		ve.Add("timesync.timeout must be > 0")
	}
	if ts.Attempts <= 0 {
		ve.Add("timesync.attempts must be > 0")
	}
	if ts.Backoff < 0 {
		ve.Add("timesync.backoff must be >= 0")
	}
	if ts.TimezoneOffset < -14*time.Hour || ts.TimezoneOffset > 14*time.Hour {
		ve.Add("timesync.timezone_offset %s is out of range", ts.TimezoneOffset)
	}
	if ts.ResyncSchedule != "" {
		if err := checkSchedule(ts.ResyncSchedule); err != nil {
			ve.Add("timesync.resync_schedule: %v", err)
		}
	}
}

func validateActions(cfg *Config, ve *ValidationError) {
	if err := checkSchedule(cfg.Actions.SweepSchedule); err != nil {
		ve.Add("actions.sweep_schedule: %v", err)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.Addr == "" {
		ve.Add("gateway.addr is required")
	} else if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port: %v", g.Addr, err)
	}
	if g.ReadTimeout < 0 || g.WriteTimeout < 0 {
		ve.Add("gateway timeouts must be >= 0")
	}
	if g.RateLimit.Enabled {
		if g.RateLimit.RequestsPerMin <= 0 {
			ve.Add("gateway.rate_limit.requests_per_min must be > 0")
		}
		if g.RateLimit.Burst <= 0 {
			ve.Add("gateway.rate_limit.burst must be > 0")
		}
	}
}

func validateMisc(cfg *Config, ve *ValidationError) {
	if cfg.Events.QueueSize <= 0 {
		ve.Add("events.queue_size must be > 0")
	}
	if cfg.MDNS.Enabled && cfg.MDNS.Service == "" {
		ve.Add("mdns.service is required when mdns is enabled")
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			ve.Add("journal.path is required when the journal is enabled")
		}
		if cfg.Journal.MaxEntries < 0 {
			ve.Add("journal.max_entries must be >= 0")
		}
	}
	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
	if cfg.Tracer.Enabled {
		switch cfg.Tracer.Exporter {
		case "stdout", "noop":
		default:
			ve.Add("tracer.exporter %q is invalid (want stdout or noop)", cfg.Tracer.Exporter)
		}
		if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
			ve.Add("tracer.sample_ratio %g must be between 0 and 1", cfg.Tracer.SampleRatio)
		}
	}
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// checkSchedule accepts a five-field cron expression, a descriptor such as
// "@hourly", or a positive Go duration.
func checkSchedule(s string) error {
	if s == "" {
		return fmt.Errorf("empty schedule")
	}
	if _, err := scheduleParser.Parse(s); err == nil {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a valid cron expression or duration: %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %q", s)
	}
	return nil
}
