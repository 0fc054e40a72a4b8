package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Project-GrADyS/uav-api/internal/audit"
	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/geo"
	"github.com/Project-GrADyS/uav-api/internal/link"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
	"github.com/Project-GrADyS/uav-api/internal/wait"
)

// Position targets carry only the position fields.
const positionOnlyMask = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

// Config tunes a Gateway.
type Config struct {
	TargetSystem    uint8
	TargetComponent uint8
	Timing          config.TimingConfig
	Command         config.CommandConfig
}

// NewConfig derives gateway settings from the bridge configuration.
func NewConfig(cfg *config.Config) Config {
	return Config{
		TargetSystem:    uint8(cfg.Vehicle.SystemID),
		TargetComponent: 1,
		Timing:          cfg.Timing,
		Command:         cfg.Command,
	}
}

// Gateway turns high-level commands into MAVLink traffic and confirms them
// against the telemetry store.
type Gateway struct {
	link    link.Link
	state   StateReader
	hub     *telemetry.Hub
	audit   AuditLogger
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New creates a gateway. hub, auditLog and m may be nil.
func New(l link.Link, state StateReader, hub *telemetry.Hub, auditLog AuditLogger, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		link:    l,
		state:   state,
		hub:     hub,
		audit:   auditLog,
		metrics: m,
		cfg:     cfg,
		logger:  logging.OrDiscard(logger).With("component", "gateway"),
	}
}

// DefaultArrival is the configured arrival policy.
func (g *Gateway) DefaultArrival() *ArrivalPolicy {
	return &ArrivalPolicy{
		Tolerance: g.cfg.Command.ArrivalTolerance,
		Interval:  g.cfg.Timing.ArrivalPoll,
		Timeout:   g.cfg.Timing.ArrivalTimeout,
	}
}

// Arm switches to GUIDED, arms the motors and waits for the heartbeat to
// report armed.
func (g *Gateway) Arm(ctx context.Context) Outcome {
	return g.run(ctx, "arm", nil, func(ctx context.Context) (string, error) {
		if err := g.setMode(ctx, link.ModeGuided); err != nil {
			return "", fmt.Errorf("set GUIDED: %w", err)
		}
		if err := g.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1); err != nil {
			return "", err
		}
		if err := g.awaitArmed(ctx, true, g.cfg.Timing.ArmTimeout, g.cfg.Timing.AckPoll); err != nil {
			return "", err
		}
		return "armed", nil
	})
}

// Disarm disarms the motors. The autopilot refuses while airborne.
func (g *Gateway) Disarm(ctx context.Context) Outcome {
	return g.run(ctx, "disarm", nil, func(ctx context.Context) (string, error) {
		if err := g.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 0); err != nil {
			return "", err
		}
		if err := g.awaitArmed(ctx, false, g.cfg.Timing.ArmTimeout, g.cfg.Timing.AckPoll); err != nil {
			return "", err
		}
		return "disarmed", nil
	})
}

// Takeoff climbs to alt metres above home. With a non-nil policy it also
// waits for the altitude to be reached.
func (g *Gateway) Takeoff(ctx context.Context, alt float64, policy *ArrivalPolicy) Outcome {
	params := map[string]any{"alt": alt}
	return g.run(ctx, "takeoff", params, func(ctx context.Context) (string, error) {
		if !finite(alt) || alt <= 0 || alt > g.cfg.Command.MaxTakeoffAltitude {
			return "", fmt.Errorf("%w: takeoff altitude must be in (0, %g], got %v",
				ErrInvalidParameter, g.cfg.Command.MaxTakeoffAltitude, alt)
		}
		if err := g.command(ctx, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(alt)); err != nil {
			return "", err
		}
		if policy == nil {
			return "takeoff accepted", nil
		}
		_, err := wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
			return s.Position.Valid && -s.Position.Z >= alt-policy.Tolerance
		}, policy.waitPolicy())
		if err != nil {
			return "", g.arrivalError(err)
		}
		return "altitude reached", nil
	})
}

// GotoNED flies to a local NED position relative to home.
func (g *Gateway) GotoNED(ctx context.Context, x, y, z float64, policy *ArrivalPolicy) Outcome {
	params := map[string]any{"x": x, "y": y, "z": z}
	return g.run(ctx, "go_to_ned", params, func(ctx context.Context) (string, error) {
		target := geo.NED{North: x, East: y, Down: z}
		if !target.Valid() {
			return "", fmt.Errorf("%w: coordinates must be finite", ErrInvalidParameter)
		}
		target.Down += g.cfg.Command.TransitOffsetDown
		return g.moveLocal(ctx, target, policy)
	})
}

// Drive moves by an offset from the current local position.
func (g *Gateway) Drive(ctx context.Context, dx, dy, dz float64, policy *ArrivalPolicy) Outcome {
	params := map[string]any{"x": dx, "y": dy, "z": dz}
	return g.run(ctx, "drive", params, func(ctx context.Context) (string, error) {
		delta := geo.NED{North: dx, East: dy, Down: dz}
		if !delta.Valid() {
			return "", fmt.Errorf("%w: offsets must be finite", ErrInvalidParameter)
		}
		snap, ok := g.state.Read()
		if !ok || !snap.Position.Valid {
			return "", fmt.Errorf("%w: local position unknown", ErrUnavailable)
		}
		return g.moveLocal(ctx, localOf(snap).Add(delta), policy)
	})
}

// GotoGPS flies to a global position; alt is relative to home.
func (g *Gateway) GotoGPS(ctx context.Context, lat, lon, alt float64, policy *ArrivalPolicy) Outcome {
	params := map[string]any{"lat": lat, "lon": lon, "alt": alt}
	return g.run(ctx, "go_to_gps", params, func(ctx context.Context) (string, error) {
		if !geo.ValidLatLon(lat, lon) {
			return "", fmt.Errorf("%w: invalid coordinates (%v, %v)", ErrInvalidParameter, lat, lon)
		}
		if !finite(alt) {
			return "", fmt.Errorf("%w: altitude must be finite", ErrInvalidParameter)
		}
		if err := g.requireGuided(); err != nil {
			return "", err
		}

		// Down offset becomes an altitude bias.
		targetAlt := alt - g.cfg.Command.TransitOffsetDown
		err := g.send(ctx, &common.MessageSetPositionTargetGlobalInt{
			TargetSystem:    g.cfg.TargetSystem,
			TargetComponent: g.cfg.TargetComponent,
			CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
			TypeMask:        positionOnlyMask,
			LatInt:          int32(math.Round(lat * 1e7)),
			LonInt:          int32(math.Round(lon * 1e7)),
			Alt:             float32(targetAlt),
		})
		if err != nil {
			return "", err
		}
		if policy == nil {
			return "target sent", nil
		}

		_, err = wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
			if !s.GPS.Valid {
				return false
			}
			ref := geo.GeoRef{OriginLat: s.GPS.Lat, OriginLon: s.GPS.Lon}
			here := geo.NED{Down: -s.GPS.RelativeAlt}
			return geo.Distance(here, ref.ToLocal(lat, lon, targetAlt)) < policy.Tolerance
		}, policy.waitPolicy())
		if err != nil {
			return "", g.arrivalError(err)
		}
		return "arrived", nil
	})
}

// Land switches to LAND and waits for touchdown, reported as disarm.
func (g *Gateway) Land(ctx context.Context) Outcome {
	return g.run(ctx, "land", nil, func(ctx context.Context) (string, error) {
		if err := g.setMode(ctx, link.ModeLand); err != nil {
			return "", err
		}
		if err := g.awaitArmed(ctx, false, g.cfg.Timing.LandTimeout, g.cfg.Timing.ArrivalPoll); err != nil {
			return "", err
		}
		return "landed", nil
	})
}

// RTL switches to RTL. With waitLanded it blocks until touchdown.
func (g *Gateway) RTL(ctx context.Context, waitLanded bool) Outcome {
	params := map[string]any{"wait": waitLanded}
	return g.run(ctx, "rtl", params, func(ctx context.Context) (string, error) {
		if err := g.setMode(ctx, link.ModeRTL); err != nil {
			return "", err
		}
		if !waitLanded {
			return "returning", nil
		}
		if err := g.awaitArmed(ctx, false, g.cfg.Timing.LandTimeout, g.cfg.Timing.ArrivalPoll); err != nil {
			return "", err
		}
		return "landed", nil
	})
}

// SetMode switches to a named ArduCopter mode and waits for the heartbeat
// to report it.
func (g *Gateway) SetMode(ctx context.Context, name string) Outcome {
	params := map[string]any{"mode": name}
	return g.run(ctx, "set_mode", params, func(ctx context.Context) (string, error) {
		mode, ok := link.ModeID(name)
		if !ok {
			return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, name)
		}
		if err := g.setMode(ctx, mode); err != nil {
			return "", err
		}
		want := link.ModeName(mode)
		_, err := wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
			return s.Status.Valid && s.Status.Mode == want
		}, wait.Policy{Interval: g.cfg.Timing.AckPoll, Timeout: g.cfg.Timing.AckTimeout})
		if err != nil {
			return "", g.stateError(err, "in "+want)
		}
		return "mode " + want, nil
	})
}

// run executes one operation: it bounds it, recovers panics, and records
// the outcome in the audit trail, metrics and the event hub.
func (g *Gateway) run(ctx context.Context, name string, params map[string]any, fn func(context.Context) (string, error)) (out Outcome) {
	start := time.Now()
	out.Command = name

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("command panicked", "command", name, "panic", r)
			out = g.finish(ctx, name, params, start, "", fmt.Errorf("%w: %v", ErrInternal, r))
		}
	}()

	if g.link == nil || g.state == nil {
		return g.finish(ctx, name, params, start, "", fmt.Errorf("%w: vehicle link not connected", ErrUnavailable))
	}

	detail, err := fn(ctx)
	return g.finish(ctx, name, params, start, detail, err)
}

func (g *Gateway) finish(ctx context.Context, name string, params map[string]any, start time.Time, detail string, err error) Outcome {
	out := Outcome{
		Command: name,
		Status:  statusFor(err),
		Code:    Code(err),
		Detail:  detail,
		Latency: time.Since(start),
		Err:     err,
	}
	if err != nil {
		out.Detail = err.Error()
	}
	if g.state != nil {
		if snap, ok := g.state.Read(); ok && snap.Position.Valid {
			p := localOf(snap)
			out.Position = &p
		}
	}

	if g.audit != nil {
		g.audit.Record(ctx, audit.Entry{
			Vehicle:   int(g.cfg.TargetSystem),
			Action:    name,
			Params:    params,
			Outcome:   string(out.Status),
			Code:      out.Code,
			LatencyMs: out.LatencyMs(),
		})
	}
	g.metrics.CommandCompleted(name, string(out.Status), out.Latency)

	if err != nil {
		g.logger.Warn("command failed", "command", name, "code", out.Code, "error", err)
		g.publish(telemetry.EventFault, map[string]any{
			"command": name,
			"code":    out.Code,
			"message": out.Detail,
		})
	} else {
		g.logger.Info("command completed", "command", name, "latency", out.Latency)
	}
	g.publish(telemetry.EventCommand, map[string]any{
		"command":   name,
		"status":    string(out.Status),
		"code":      out.Code,
		"latencyMs": out.LatencyMs(),
	})
	return out
}

func (g *Gateway) publish(eventType string, data map[string]any) {
	if g.hub == nil {
		return
	}
	g.hub.Publish(telemetry.Event{Type: eventType, Data: data})
}

// moveLocal sends a local position target and optionally waits for arrival.
func (g *Gateway) moveLocal(ctx context.Context, target geo.NED, policy *ArrivalPolicy) (string, error) {
	if err := g.requireGuided(); err != nil {
		return "", err
	}
	err := g.send(ctx, &common.MessageSetPositionTargetLocalNed{
		TargetSystem:    g.cfg.TargetSystem,
		TargetComponent: g.cfg.TargetComponent,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        positionOnlyMask,
		X:               float32(target.North),
		Y:               float32(target.East),
		Z:               float32(target.Down),
	})
	if err != nil {
		return "", err
	}
	if policy == nil {
		return "target sent", nil
	}

	_, err = wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
		return s.Position.Valid && geo.Distance(localOf(s), target) < policy.Tolerance
	}, policy.waitPolicy())
	if err != nil {
		return "", g.arrivalError(err)
	}
	return "arrived", nil
}

// requireGuided refuses position targets the autopilot would ignore.
// Unknown status is let through.
func (g *Gateway) requireGuided() error {
	snap, ok := g.state.Read()
	if !ok || !snap.Status.Valid {
		return nil
	}
	if !snap.Status.Armed {
		return fmt.Errorf("%w: vehicle is not armed", ErrPrecondition)
	}
	if snap.Status.Mode != link.ModeName(link.ModeGuided) {
		return fmt.Errorf("%w: vehicle is in %s, not GUIDED", ErrPrecondition, snap.Status.Mode)
	}
	return nil
}

func (g *Gateway) setMode(ctx context.Context, mode uint32) error {
	return g.command(ctx, common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(mode))
}

// command sends a COMMAND_LONG and waits for its acknowledgement.
func (g *Gateway) command(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	var p [7]float32
	copy(p[:], params)

	baseline := g.ackCounter(cmd)
	err := g.send(ctx, &common.MessageCommandLong{
		TargetSystem:    g.cfg.TargetSystem,
		TargetComponent: g.cfg.TargetComponent,
		Command:         cmd,
		Param1:          p[0],
		Param2:          p[1],
		Param3:          p[2],
		Param4:          p[3],
		Param5:          p[4],
		Param6:          p[5],
		Param7:          p[6],
	})
	if err != nil {
		return err
	}

	snap, err := wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
		return s.Acks[cmd].Counter > baseline
	}, wait.Policy{Interval: g.cfg.Timing.AckPoll, Timeout: g.cfg.Timing.AckTimeout})
	if errors.Is(err, wait.ErrTimeout) {
		return fmt.Errorf("%w: no COMMAND_ACK for %s within %v", ErrCommandTimeout, cmd, g.cfg.Timing.AckTimeout)
	}
	if err != nil {
		return err
	}
	return resultError(cmd, snap.Acks[cmd].Result)
}

func (g *Gateway) ackCounter(cmd common.MAV_CMD) uint64 {
	snap, ok := g.state.Read()
	if !ok {
		return 0
	}
	return snap.Acks[cmd].Counter
}

func (g *Gateway) send(ctx context.Context, msg message.Message) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timing.AckTimeout)
	defer cancel()
	return g.link.Send(ctx, msg)
}

func (g *Gateway) awaitArmed(ctx context.Context, armed bool, timeout, interval time.Duration) error {
	_, err := wait.Until(ctx, g.state.Read, func(s telemetry.Snapshot) bool {
		return s.Status.Valid && s.Status.Armed == armed
	}, wait.Policy{Interval: interval, Timeout: timeout})
	if err != nil {
		state := "disarmed"
		if armed {
			state = "armed"
		}
		return g.stateError(err, state)
	}
	return nil
}

func (g *Gateway) stateError(err error, want string) error {
	if errors.Is(err, wait.ErrTimeout) {
		return fmt.Errorf("%w: vehicle not %s in time", ErrCommandTimeout, want)
	}
	return err
}

func (g *Gateway) arrivalError(err error) error {
	if errors.Is(err, wait.ErrTimeout) {
		return fmt.Errorf("%w: target not reached in time", ErrArrivalTimeout)
	}
	return err
}

func (p *ArrivalPolicy) waitPolicy() wait.Policy {
	return wait.Policy{Interval: p.Interval, Timeout: p.Timeout}
}

func localOf(s telemetry.Snapshot) geo.NED {
	return geo.NED{North: s.Position.X, East: s.Position.Y, Down: s.Position.Z}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
