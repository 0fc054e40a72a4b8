package command

import (
	"context"

	"github.com/Project-GrADyS/uav-api/internal/audit"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// GatewayPort is the surface the REST adapter needs from the gateway.
type GatewayPort interface {
	Arm(ctx context.Context) Outcome
	Disarm(ctx context.Context) Outcome
	Takeoff(ctx context.Context, alt float64, wait *ArrivalPolicy) Outcome
	GotoNED(ctx context.Context, x, y, z float64, wait *ArrivalPolicy) Outcome
	GotoGPS(ctx context.Context, lat, lon, alt float64, wait *ArrivalPolicy) Outcome
	Drive(ctx context.Context, dx, dy, dz float64, wait *ArrivalPolicy) Outcome
	Land(ctx context.Context) Outcome
	RTL(ctx context.Context, waitLanded bool) Outcome
	SetMode(ctx context.Context, name string) Outcome
	DefaultArrival() *ArrivalPolicy
}

// StateReader is the read side of the telemetry store.
type StateReader interface {
	Read() (telemetry.Snapshot, bool)
}

// AuditLogger records every command.
type AuditLogger interface {
	Record(ctx context.Context, entry audit.Entry)
}

var (
	_ StateReader = (*telemetry.Store)(nil)
	_ AuditLogger = (*audit.Logger)(nil)
	_ GatewayPort = (*Gateway)(nil)
)
