// Package simlink is an in-process simulated copter that speaks the same
// Link contract as a real autopilot. It answers the GUIDED command subset,
// flies toward position targets at a fixed speed and streams telemetry.
package simlink

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Project-GrADyS/uav-api/internal/geo"
	"github.com/Project-GrADyS/uav-api/internal/link"
	"github.com/Project-GrADyS/uav-api/internal/logging"
)

// forceDisarmMagic is ArduPilot's param2 value that overrides disarm checks.
const forceDisarmMagic = 21196

// groundDown is the Down value under which the vehicle counts as landed.
const groundDown = -0.05

// Config tunes the simulated vehicle.
type Config struct {
	SystemID   uint8
	Home       geo.GeoRef
	HomeAltMSL float64
	Speed      float64       // m/s toward the current target
	Step       time.Duration // simulation and telemetry period
	QueueSize  int
}

// DefaultConfig is a vehicle at the AbraDF SITL location.
func DefaultConfig() Config {
	return Config{
		SystemID:   1,
		Home:       geo.GeoRef{OriginLat: -15.840081, OriginLon: -47.926642},
		HomeAltMSL: 1042,
		Speed:      5,
		Step:       100 * time.Millisecond,
		QueueSize:  512,
	}
}

type item struct {
	frame link.Frame
	err   error
}

// Vehicle is the simulated copter. It implements link.Link.
type Vehicle struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pos     geo.NED
	target  geo.NED
	armed   bool
	mode    uint32
	frozen  bool
	bootAt  time.Time
	heading float64

	queue chan item

	severOnce sync.Once
	severed   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

var _ link.Link = (*Vehicle)(nil)

// New starts a simulated vehicle on the ground at home, disarmed in
// STABILIZE.
func New(cfg Config, logger *slog.Logger) *Vehicle {
	def := DefaultConfig()
	if cfg.SystemID == 0 {
		cfg.SystemID = def.SystemID
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	v := &Vehicle{
		cfg:     cfg,
		logger:  logging.OrDiscard(logger).With("component", "simlink"),
		mode:    link.ModeStabilize,
		bootAt:  time.Now(),
		queue:   make(chan item, cfg.QueueSize),
		severed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	v.wg.Add(1)
	go v.run()
	return v
}

// Send applies a command message to the simulated vehicle.
func (v *Vehicle) Send(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.gone("send"); err != nil {
		return err
	}

	switch m := msg.(type) {
	case *common.MessageCommandLong:
		if !v.addressed(m.TargetSystem) {
			return nil
		}
		result := v.handleCommand(m)
		v.push(&common.MessageCommandAck{Command: m.Command, Result: result})

	case *common.MessageSetMode:
		if !v.addressed(m.TargetSystem) {
			return nil
		}
		result := v.setMode(m.CustomMode)
		v.push(&common.MessageCommandAck{Command: common.MAV_CMD_DO_SET_MODE, Result: result})

	case *common.MessageSetPositionTargetLocalNed:
		if v.addressed(m.TargetSystem) {
			v.setTarget(geo.NED{North: float64(m.X), East: float64(m.Y), Down: float64(m.Z)})
		}

	case *common.MessageSetPositionTargetGlobalInt:
		if v.addressed(m.TargetSystem) {
			p := v.cfg.Home.ToLocal(float64(m.LatInt)/1e7, float64(m.LonInt)/1e7, float64(m.Alt))
			v.setTarget(p)
		}
	}
	return nil
}

// Receive returns the next queued frame.
func (v *Vehicle) Receive(ctx context.Context, wait time.Duration) (link.Frame, error) {
	if err := v.gone("receive"); err != nil {
		return link.Frame{}, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return link.Frame{}, ctx.Err()
	case <-v.severed:
		return link.Frame{}, link.NewTransportError("receive", errors.New("link severed"))
	case <-v.closed:
		return link.Frame{}, link.NewTransportError("receive", errors.New("link closed"))
	case it := <-v.queue:
		return it.frame, it.err
	case <-timer.C:
		return link.Frame{}, link.ErrReceiveTimeout
	}
}

// Close stops the simulation.
func (v *Vehicle) Close() error {
	v.closeOnce.Do(func() {
		close(v.closed)
	})
	v.wg.Wait()
	return nil
}

// InjectGarbage queues an undecodable frame.
func (v *Vehicle) InjectGarbage() {
	v.enqueue(item{err: &link.DecodeError{Err: errors.New("invalid checksum")}})
}

// Sever simulates the cable being pulled: every later call fails with a
// transport error.
func (v *Vehicle) Sever() {
	v.severOnce.Do(func() { close(v.severed) })
}

// Freeze stops the vehicle from moving; telemetry keeps flowing.
func (v *Vehicle) Freeze(frozen bool) {
	v.mu.Lock()
	v.frozen = frozen
	v.mu.Unlock()
}

// Position returns the true simulated position.
func (v *Vehicle) Position() geo.NED {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

// Armed reports the true simulated arming state.
func (v *Vehicle) Armed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.armed
}

func (v *Vehicle) gone(op string) error {
	select {
	case <-v.severed:
		return link.NewTransportError(op, errors.New("link severed"))
	case <-v.closed:
		return link.NewTransportError(op, errors.New("link closed"))
	default:
		return nil
	}
}

func (v *Vehicle) addressed(target uint8) bool {
	return target == 0 || target == v.cfg.SystemID
}

func (v *Vehicle) handleCommand(m *common.MessageCommandLong) common.MAV_RESULT {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch m.Command {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		if m.Param1 == 1 {
			v.armed = true
			v.target = v.pos
			v.logger.Debug("armed")
			return common.MAV_RESULT_ACCEPTED
		}
		if v.airborne() && m.Param2 != forceDisarmMagic {
			return common.MAV_RESULT_DENIED
		}
		v.armed = false
		v.logger.Debug("disarmed")
		return common.MAV_RESULT_ACCEPTED

	case common.MAV_CMD_NAV_TAKEOFF:
		alt := float64(m.Param7)
		if !v.armed || v.mode != link.ModeGuided || alt <= 0 || math.IsNaN(alt) {
			return common.MAV_RESULT_FAILED
		}
		if v.airborne() {
			return common.MAV_RESULT_DENIED
		}
		v.target = geo.NED{North: v.pos.North, East: v.pos.East, Down: -alt}
		return common.MAV_RESULT_ACCEPTED

	case common.MAV_CMD_NAV_LAND:
		v.mode = link.ModeLand
		return common.MAV_RESULT_ACCEPTED

	case common.MAV_CMD_NAV_RETURN_TO_LAUNCH:
		v.mode = link.ModeRTL
		return common.MAV_RESULT_ACCEPTED

	case common.MAV_CMD_DO_SET_MODE:
		return v.setModeLocked(uint32(m.Param2))

	default:
		return common.MAV_RESULT_UNSUPPORTED
	}
}

func (v *Vehicle) setMode(mode uint32) common.MAV_RESULT {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setModeLocked(mode)
}

func (v *Vehicle) setModeLocked(mode uint32) common.MAV_RESULT {
	if link.ModeName(mode) == "UNKNOWN" {
		return common.MAV_RESULT_DENIED
	}
	if mode == link.ModeGuided && v.mode != link.ModeGuided {
		v.target = v.pos
	}
	v.mode = mode
	return common.MAV_RESULT_ACCEPTED
}

// setTarget accepts position targets only while armed in GUIDED, as
// ArduCopter does.
func (v *Vehicle) setTarget(p geo.NED) {
	if !p.Valid() {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.armed && v.mode == link.ModeGuided {
		v.target = p
	}
}

// airborne is called with v.mu held.
func (v *Vehicle) airborne() bool {
	return v.pos.Down < groundDown
}

func (v *Vehicle) run() {
	defer v.wg.Done()

	ticker := time.NewTicker(v.cfg.Step)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-v.closed:
			return
		case <-v.severed:
			return
		case <-ticker.C:
			v.step()
			v.emitTelemetry(i)
		}
	}
}

func (v *Vehicle) step() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.armed || v.frozen {
		return
	}

	switch v.mode {
	case link.ModeLand:
		v.target = geo.NED{North: v.pos.North, East: v.pos.East, Down: 0}
	case link.ModeRTL:
		home := geo.NED{Down: v.pos.Down}
		if math.Hypot(v.pos.North, v.pos.East) > 0.5 {
			v.target = home
		} else {
			v.target = geo.NED{}
		}
	case link.ModeGuided:
	default:
		// Other modes hold position
		v.target = v.pos
	}

	maxStep := v.cfg.Speed * v.cfg.Step.Seconds()
	next := geo.StepToward(v.pos, v.target, maxStep)
	if delta := next.Sub(v.pos); math.Hypot(delta.North, delta.East) > 1e-6 {
		v.heading = geo.HeadingDeg(delta)
	}
	v.pos = next
	if v.pos.Down > 0 {
		v.pos.Down = 0
	}

	// Touchdown in LAND or RTL disarms
	if (v.mode == link.ModeLand || v.mode == link.ModeRTL) && !v.airborne() {
		v.armed = false
		v.mode = link.ModeLand
		v.logger.Debug("touchdown, disarmed")
	}
}

func (v *Vehicle) emitTelemetry(tick int) {
	v.mu.Lock()
	pos, armed, mode, heading := v.pos, v.armed, v.mode, v.heading
	bootMs := uint32(time.Since(v.bootAt).Milliseconds())
	v.mu.Unlock()

	baseMode := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED | common.MAV_MODE_FLAG_GUIDED_ENABLED
	state := common.MAV_STATE_STANDBY
	if armed {
		baseMode |= common.MAV_MODE_FLAG_SAFETY_ARMED
		state = common.MAV_STATE_ACTIVE
	}
	v.push(&common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:       baseMode,
		CustomMode:     mode,
		SystemStatus:   state,
		MavlinkVersion: 3,
	})

	v.push(&common.MessageLocalPositionNed{
		TimeBootMs: bootMs,
		X:          float32(pos.North),
		Y:          float32(pos.East),
		Z:          float32(pos.Down),
	})

	lat, lon, relAlt := v.cfg.Home.ToGeo(pos)
	v.push(&common.MessageGlobalPositionInt{
		TimeBootMs:  bootMs,
		Lat:         int32(math.Round(lat * 1e7)),
		Lon:         int32(math.Round(lon * 1e7)),
		Alt:         int32(math.Round((v.cfg.HomeAltMSL + relAlt) * 1000)),
		RelativeAlt: int32(math.Round(relAlt * 1000)),
		Hdg:         uint16(math.Round(heading * 100)),
	})

	v.push(&common.MessageAttitude{
		TimeBootMs: bootMs,
		Yaw:        float32(heading * math.Pi / 180),
	})

	if tick%10 == 0 {
		v.push(&common.MessageGpsRawInt{
			TimeUsec:          uint64(bootMs) * 1000,
			FixType:           common.GPS_FIX_TYPE_3D_FIX,
			Lat:               int32(math.Round(lat * 1e7)),
			Lon:               int32(math.Round(lon * 1e7)),
			Alt:               int32(math.Round((v.cfg.HomeAltMSL + relAlt) * 1000)),
			SatellitesVisible: 10,
		})
	}
}

func (v *Vehicle) push(msg message.Message) {
	v.enqueue(item{frame: link.Frame{
		SystemID:    v.cfg.SystemID,
		ComponentID: 1,
		Message:     msg,
	}})
}

// enqueue drops the oldest item when the queue is full.
func (v *Vehicle) enqueue(it item) {
	for {
		select {
		case v.queue <- it:
			return
		default:
		}
		select {
		case <-v.queue:
		default:
		}
	}
}
