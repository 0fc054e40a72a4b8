package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is read when UAV_API_CONFIG is not set and the file exists.
const DefaultConfigPath = "config/uav-api.yaml"

// Load merges Defaults() + optional YAML file + UAV_API_* env overrides and
// validates the result.
func Load() (*Config, error) {
	cfg := Defaults()

	path := os.Getenv("UAV_API_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultConfigPath); err == nil {
			path = DefaultConfigPath
		}
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile unmarshals a YAML file over cfg; absent keys keep their value.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies UAV_API_* variables. Malformed values are
// reported instead of being skipped.
func applyEnvOverrides(cfg *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	// Vehicle
	num("UAV_API_SYSID", &cfg.Vehicle.SystemID)
	num("UAV_API_GCS_SYSID", &cfg.Vehicle.GCSSystemID)
	str("UAV_API_CONNECTION", &cfg.Vehicle.Connection)
	num("UAV_API_STREAM_RATE", &cfg.Vehicle.StreamRate)

	// Timing
	duration("UAV_API_TIMING_DRAIN_POLL", &cfg.Timing.DrainPoll)
	duration("UAV_API_TIMING_ACK_TIMEOUT", &cfg.Timing.AckTimeout)
	duration("UAV_API_TIMING_ARM_TIMEOUT", &cfg.Timing.ArmTimeout)
	duration("UAV_API_TIMING_ARRIVAL_POLL", &cfg.Timing.ArrivalPoll)
	duration("UAV_API_TIMING_ARRIVAL_TIMEOUT", &cfg.Timing.ArrivalTimeout)
	duration("UAV_API_TIMING_LAND_TIMEOUT", &cfg.Timing.LandTimeout)

	// Command
	float("UAV_API_ARRIVAL_TOLERANCE", &cfg.Command.ArrivalTolerance)
	float("UAV_API_TRANSIT_OFFSET_DOWN", &cfg.Command.TransitOffsetDown)

	// Relay
	str("UAV_API_GRADYS_GS", &cfg.Relay.Address)
	str("UAV_API_RELAY_ADVERTISE", &cfg.Relay.Advertise)
	duration("UAV_API_RELAY_PERIOD", &cfg.Relay.Period)

	// SITL
	boolean("UAV_API_SIMULATED", &cfg.SITL.Enabled)
	str("UAV_API_ARDUPILOT_PATH", &cfg.SITL.ArdupilotPath)
	str("UAV_API_SITL_LOCATION", &cfg.SITL.Location)
	num("UAV_API_SITL_SPEEDUP", &cfg.SITL.Speedup)
	if v := os.Getenv("UAV_API_GS_CONNECTION"); v != "" {
		cfg.SITL.GSOutputs = splitList(v)
	}

	// API, logging, audit
	str("UAV_API_ADDR", &cfg.API.Addr)
	str("UAV_API_AUTH_SECRET", &cfg.API.AuthSecret)
	str("UAV_API_LOG_LEVEL", &cfg.Log.Level)
	str("UAV_API_LOG_FORMAT", &cfg.Log.Format)
	str("UAV_API_LOG_FILE", &cfg.Log.File)
	str("UAV_API_AUDIT_DIR", &cfg.Audit.Dir)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
