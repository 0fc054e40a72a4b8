package config

import (
	"time"
)

// DefaultTransitOffsetDown is the vertical bias, in metres along the NED down
// axis, added to absolute position targets. Zero flies to the requested
// point; a negative value (e.g. -2) cruises above it.
const DefaultTransitOffsetDown = 0.0

// Config is the complete bridge configuration.
type Config struct {
	Vehicle VehicleConfig `yaml:"vehicle"`
	Timing  TimingConfig  `yaml:"timing"`
	Command CommandConfig `yaml:"command"`
	Relay   RelayConfig   `yaml:"relay"`
	SITL    SITLConfig    `yaml:"sitl"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
	Audit   AuditConfig   `yaml:"audit"`
}

// VehicleConfig identifies the vehicle and how to reach it.
type VehicleConfig struct {
	// SystemID is the MAVLink system id of the vehicle.
	SystemID int `yaml:"sysid"`

	// GCSSystemID is the system id this bridge uses on the link.
	GCSSystemID int `yaml:"gcsSysid"`

	// Connection is the endpoint descriptor, e.g. "udp:127.0.0.1:17171",
	// "tcp:127.0.0.1:5760", "serial:/dev/ttyACM0:115200" or "sim".
	Connection string `yaml:"connection"`

	// StreamRate is the telemetry rate (Hz) requested from the autopilot.
	StreamRate int `yaml:"streamRate"`
}

// TimingConfig carries every wait and timeout the bridge uses.
type TimingConfig struct {
	// Drain loop
	DrainPoll time.Duration `yaml:"drainPoll"`

	// Command acknowledgement and state flips
	AckTimeout time.Duration `yaml:"ackTimeout"`
	ArmTimeout time.Duration `yaml:"armTimeout"`
	AckPoll    time.Duration `yaml:"ackPoll"`

	// Motion waits
	ArrivalPoll    time.Duration `yaml:"arrivalPoll"`
	ArrivalTimeout time.Duration `yaml:"arrivalTimeout"`
	LandTimeout    time.Duration `yaml:"landTimeout"`

	// Event hub
	EventBufferSize   int           `yaml:"eventBufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
}

// CommandConfig tunes the command gateway.
type CommandConfig struct {
	// ArrivalTolerance is the 3-D distance (metres) under which a move is
	// considered complete.
	ArrivalTolerance float64 `yaml:"arrivalTolerance"`

	// TransitOffsetDown is added to the down component of position targets.
	TransitOffsetDown float64 `yaml:"transitOffsetDown"`

	// MaxTakeoffAltitude bounds takeoff requests, metres above ground.
	MaxTakeoffAltitude float64 `yaml:"maxTakeoffAltitude"`
}

// RelayConfig configures the GrADyS ground-station relay.
type RelayConfig struct {
	// Address is host:port of the ground station; empty disables the relay.
	Address     string        `yaml:"address"`
	Period      time.Duration `yaml:"period"`
	Advertise   string        `yaml:"advertise"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// SITLConfig configures the simulated backend supervisor.
type SITLConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ArdupilotPath string        `yaml:"ardupilotPath"`
	Location      string        `yaml:"location"`
	Speedup       int           `yaml:"speedup"`
	Terminal      []string      `yaml:"terminal"`
	GSOutputs     []string      `yaml:"gsOutputs"`
	LogDir        string        `yaml:"logDir"`
	Settle        time.Duration `yaml:"settle"`
	KillGrace     time.Duration `yaml:"killGrace"`
}

// APIConfig configures the REST surface.
type APIConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AuthSecret      string        `yaml:"authSecret"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuditConfig configures the command audit trail.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Defaults returns the baseline configuration every source is merged onto.
func Defaults() *Config {
	return &Config{
		Vehicle: VehicleConfig{
			SystemID:    10,
			GCSSystemID: 255,
			Connection:  "udp:127.0.0.1:17171",
			StreamRate:  4,
		},
		Timing: TimingConfig{
			DrainPoll: 250 * time.Millisecond,

			AckTimeout: 5 * time.Second,
			ArmTimeout: 5 * time.Second,
			AckPoll:    100 * time.Millisecond,

			ArrivalPoll:    2 * time.Second,
			ArrivalTimeout: 120 * time.Second,
			LandTimeout:    120 * time.Second,

			EventBufferSize:   50,
			HeartbeatInterval: 15 * time.Second,
		},
		Command: CommandConfig{
			ArrivalTolerance:   1.0,
			TransitOffsetDown:  DefaultTransitOffsetDown,
			MaxTakeoffAltitude: 120,
		},
		Relay: RelayConfig{
			Period:      time.Second,
			HTTPTimeout: 2 * time.Second,
		},
		SITL: SITLConfig{
			ArdupilotPath: "~/ardupilot",
			Location:      "AbraDF",
			Speedup:       1,
			Terminal:      []string{"xterm", "-e"},
			LogDir:        "~/uav_api_logs/ardupilot_logs",
			Settle:        5 * time.Second,
			KillGrace:     3 * time.Second,
		},
		API: APIConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  20,
			MaxBackups: 10,
		},
	}
}
