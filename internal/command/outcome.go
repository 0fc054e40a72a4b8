package command

import (
	"time"

	"github.com/Project-GrADyS/uav-api/internal/geo"
)

// Status is the coarse result of a gateway operation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Outcome is what every gateway operation returns.
type Outcome struct {
	Command string        `json:"command"`
	Status  Status        `json:"status"`
	Code    string        `json:"code"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"-"`
	Err     error         `json:"-"`

	// Position is the last known local position for movement commands.
	Position *geo.NED `json:"position,omitempty"`
}

// OK reports whether the command completed.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// LatencyMs is the latency in whole milliseconds.
func (o Outcome) LatencyMs() int64 {
	return o.Latency.Milliseconds()
}

// ArrivalPolicy asks a movement command to block until the vehicle is
// within Tolerance metres of the target. A nil policy returns as soon as
// the target was sent.
type ArrivalPolicy struct {
	Tolerance float64
	Interval  time.Duration
	Timeout   time.Duration
}
