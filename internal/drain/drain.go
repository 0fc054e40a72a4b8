// Package drain runs the loop that reads every frame from the vehicle link
// and folds it into the telemetry store.
package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Project-GrADyS/uav-api/internal/link"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// DefaultPoll bounds each receive when Config.Poll is unset.
const DefaultPoll = 250 * time.Millisecond

// TransportError is returned by Run when the link failed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("drain loop stopped: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config tunes the loop.
type Config struct {
	// TargetSystem is the vehicle sysid; frames from other systems are ignored.
	TargetSystem uint8
	Poll         time.Duration
}

// Loop is the single consumer of the link's inbound side.
type Loop struct {
	link    link.Link
	store   *telemetry.Store
	hub     *telemetry.Hub
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a drain loop. hub and m may be nil.
func New(l link.Link, store *telemetry.Store, hub *telemetry.Hub, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Loop {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	return &Loop{
		link:    l,
		store:   store,
		hub:     hub,
		metrics: m,
		cfg:     cfg,
		logger:  logging.OrDiscard(logger).With("component", "drain"),
	}
}

// Run drains the link until ctx is cancelled (returns nil) or the transport
// fails (returns *TransportError). Decode errors are counted and skipped.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("drain loop started", "targetSystem", l.cfg.TargetSystem, "poll", l.cfg.Poll)
	for {
		if ctx.Err() != nil {
			l.logger.Info("drain loop cancelled")
			return nil
		}

		fr, err := l.link.Receive(ctx, l.cfg.Poll)
		switch {
		case err == nil:
			l.apply(fr)
		case errors.Is(err, link.ErrReceiveTimeout):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				l.logger.Info("drain loop cancelled")
				return nil
			}
		case errors.Is(err, link.ErrDecode):
			l.metrics.DecodeError()
			l.logger.Debug("skipping undecodable frame", "error", err)
		default:
			l.logger.Error("vehicle link failed", "error", err)
			l.publish(telemetry.EventFault, map[string]any{"error": err.Error()})
			return &TransportError{Err: err}
		}
	}
}

// apply folds one frame into the store.
func (l *Loop) apply(fr link.Frame) {
	if l.cfg.TargetSystem != 0 && fr.SystemID != l.cfg.TargetSystem {
		return
	}
	l.metrics.FrameReceived(link.MessageName(fr.Message))

	var seq uint64
	switch m := fr.Message.(type) {
	case *common.MessageHeartbeat:
		// Only the autopilot's own heartbeat describes vehicle state
		if m.Type == common.MAV_TYPE_GCS || m.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		st := telemetry.Status{
			Armed:        m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0,
			Mode:         link.ModeName(m.CustomMode),
			CustomMode:   m.CustomMode,
			SystemStatus: m.SystemStatus.String(),
		}
		var prev telemetry.Status
		prev, seq = l.store.UpdateStatus(st)
		l.statusTransitions(prev, st)

	case *common.MessageLocalPositionNed:
		seq = l.store.UpdatePosition(telemetry.Position{
			X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z),
			VX: float64(m.Vx), VY: float64(m.Vy), VZ: float64(m.Vz),
		})

	case *common.MessageGlobalPositionInt:
		seq = l.store.UpdateGPS(telemetry.GPS{
			Lat:         float64(m.Lat) / 1e7,
			Lon:         float64(m.Lon) / 1e7,
			Alt:         float64(m.Alt) / 1000,
			RelativeAlt: float64(m.RelativeAlt) / 1000,
		})
		if m.Hdg != 65535 {
			seq = l.store.UpdateHeading(float64(m.Hdg) / 100)
		}

	case *common.MessageGpsRawInt:
		seq = l.store.UpdateGPSFix(uint8(m.FixType), m.SatellitesVisible)

	case *common.MessageAttitude:
		seq = l.store.UpdateAttitude(telemetry.Attitude{
			Roll: float64(m.Roll), Pitch: float64(m.Pitch), Yaw: float64(m.Yaw),
		})

	case *common.MessageCommandAck:
		seq = l.store.RecordAck(m.Command, m.Result)
		l.logger.Debug("command ack", "command", m.Command.String(), "result", m.Result.String())

	case *common.MessageStatustext:
		l.logger.Info("vehicle status text", "severity", m.Severity.String(), "text", m.Text)
		return

	default:
		return
	}
	l.metrics.SnapshotSequence(seq)
}

func (l *Loop) statusTransitions(prev, cur telemetry.Status) {
	if !prev.Valid || prev.Armed != cur.Armed {
		l.logger.Info("armed state", "armed", cur.Armed)
		l.publish(telemetry.EventArmed, map[string]any{"armed": cur.Armed})
	}
	if !prev.Valid || prev.Mode != cur.Mode {
		l.logger.Info("flight mode", "mode", cur.Mode)
		l.publish(telemetry.EventMode, map[string]any{"mode": cur.Mode})
	}
}

func (l *Loop) publish(eventType string, data map[string]any) {
	if l.hub == nil {
		return
	}
	l.hub.Publish(telemetry.Event{Type: eventType, Data: data})
}
