package api

import (
	"context"
	"net/http"

	"github.com/Project-GrADyS/uav-api/internal/command"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// StatePort is the read side of the telemetry store.
type StatePort interface {
	Read() (telemetry.Snapshot, bool)
}

// StreamPort serves the server-sent event stream.
type StreamPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

var (
	_ command.GatewayPort = (*command.Gateway)(nil)
	_ StatePort           = (*telemetry.Store)(nil)
	_ StreamPort          = (*telemetry.Hub)(nil)
)
