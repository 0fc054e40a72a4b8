package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Validate enforces the bridge configuration rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	// Validate vehicle identity and endpoint
	if err := validateVehicle(&cfg.Vehicle); err != nil {
		return fmt.Errorf("vehicle validation failed: %w", err)
	}

	// Validate timing
	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}

	// Validate command gateway tuning
	if err := validateCommand(&cfg.Command); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}

	// Validate relay
	if err := validateRelay(&cfg.Relay); err != nil {
		return fmt.Errorf("relay validation failed: %w", err)
	}

	// Validate simulator supervisor
	if err := validateSITL(&cfg.SITL); err != nil {
		return fmt.Errorf("sitl validation failed: %w", err)
	}

	// Validate logging
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}

	return nil
}

// validateVehicle validates the vehicle section.
func validateVehicle(v *VehicleConfig) error {
	if v.SystemID < 1 || v.SystemID > 255 {
		return fmt.Errorf("sysid must be in [1,255], got %d", v.SystemID)
	}
	if v.GCSSystemID < 1 || v.GCSSystemID > 255 {
		return fmt.Errorf("gcs sysid must be in [1,255], got %d", v.GCSSystemID)
	}
	if v.GCSSystemID == v.SystemID {
		return fmt.Errorf("gcs sysid %d collides with vehicle sysid", v.GCSSystemID)
	}
	if strings.TrimSpace(v.Connection) == "" {
		return fmt.Errorf("connection must not be empty")
	}
	if v.StreamRate < 0 {
		return fmt.Errorf("stream rate must be non-negative, got %d", v.StreamRate)
	}
	return nil
}

// validateTiming validates wait and timeout parameters.
func validateTiming(t *TimingConfig) error {
	// All polls and timeouts must be positive
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"drain poll", t.DrainPoll},
		{"ack timeout", t.AckTimeout},
		{"arm timeout", t.ArmTimeout},
		{"ack poll", t.AckPoll},
		{"arrival poll", t.ArrivalPoll},
		{"arrival timeout", t.ArrivalTimeout},
		{"land timeout", t.LandTimeout},
		{"heartbeat interval", t.HeartbeatInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}

	// A wait must be able to poll at least once before it expires
	if t.ArrivalTimeout < t.ArrivalPoll {
		return fmt.Errorf("arrival timeout %v must be >= arrival poll %v", t.ArrivalTimeout, t.ArrivalPoll)
	}
	if t.AckTimeout < t.AckPoll {
		return fmt.Errorf("ack timeout %v must be >= ack poll %v", t.AckTimeout, t.AckPoll)
	}

	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	return nil
}

// validateCommand validates gateway tuning.
func validateCommand(c *CommandConfig) error {
	if !(c.ArrivalTolerance > 0) || math.IsInf(c.ArrivalTolerance, 0) {
		return fmt.Errorf("arrival tolerance must be positive, got %v", c.ArrivalTolerance)
	}
	if math.IsNaN(c.TransitOffsetDown) || math.IsInf(c.TransitOffsetDown, 0) {
		return fmt.Errorf("transit offset must be finite, got %v", c.TransitOffsetDown)
	}
	if !(c.MaxTakeoffAltitude > 0) || math.IsInf(c.MaxTakeoffAltitude, 0) {
		return fmt.Errorf("max takeoff altitude must be positive, got %v", c.MaxTakeoffAltitude)
	}
	return nil
}

// validateRelay validates the relay section. An empty address disables it.
func validateRelay(r *RelayConfig) error {
	if r.Address == "" {
		return nil
	}
	if strings.Contains(r.Address, "://") {
		return fmt.Errorf("address must be host:port, got %q", r.Address)
	}
	if r.Period <= 0 {
		return fmt.Errorf("period must be positive, got %v", r.Period)
	}
	if r.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %v", r.HTTPTimeout)
	}
	return nil
}

// validateSITL validates the supervisor section. Disabled means no checks.
func validateSITL(s *SITLConfig) error {
	if !s.Enabled {
		return nil
	}
	if s.ArdupilotPath == "" {
		return fmt.Errorf("ardupilot path must be set when sitl is enabled")
	}
	if s.Location == "" {
		return fmt.Errorf("location must be set when sitl is enabled")
	}
	if s.Speedup < 1 {
		return fmt.Errorf("speedup must be >= 1, got %d", s.Speedup)
	}
	if s.Settle < 0 {
		return fmt.Errorf("settle must be non-negative, got %v", s.Settle)
	}
	if s.KillGrace <= 0 {
		return fmt.Errorf("kill grace must be positive, got %v", s.KillGrace)
	}
	return nil
}

// validateLog validates logging level and format.
func validateLog(l *LogConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}
