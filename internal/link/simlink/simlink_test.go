package simlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Project-GrADyS/uav-api/internal/geo"
	"github.com/Project-GrADyS/uav-api/internal/link"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Speed = 50
	cfg.Step = 5 * time.Millisecond
	return cfg
}

func newVehicle(t *testing.T) *Vehicle {
	t.Helper()
	v := New(fastConfig(), nil)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// nextAck drains frames until a COMMAND_ACK for cmd arrives.
func nextAck(t *testing.T, v *Vehicle, cmd common.MAV_CMD) common.MAV_RESULT {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fr, err := v.Receive(context.Background(), 100*time.Millisecond)
		if err != nil {
			continue
		}
		if ack, ok := fr.Message.(*common.MessageCommandAck); ok && ack.Command == cmd {
			return ack.Result
		}
	}
	t.Fatalf("no ack for %v", cmd)
	return 0
}

func send(t *testing.T, v *Vehicle, cmd common.MAV_CMD, params ...float32) common.MAV_RESULT {
	t.Helper()
	p := make([]float32, 7)
	copy(p, params)
	err := v.Send(context.Background(), &common.MessageCommandLong{
		TargetSystem: 1,
		Command:      cmd,
		Param1:       p[0], Param2: p[1], Param3: p[2], Param4: p[3],
		Param5: p[4], Param6: p[5], Param7: p[6],
	})
	if err != nil {
		t.Fatalf("Send(%v) error: %v", cmd, err)
	}
	return nextAck(t, v, cmd)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTelemetryStream(t *testing.T) {
	v := newVehicle(t)

	seen := map[string]bool{}
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < 4 && time.Now().Before(deadline) {
		fr, err := v.Receive(context.Background(), 100*time.Millisecond)
		if err != nil {
			continue
		}
		if fr.SystemID != 1 || fr.ComponentID != 1 {
			t.Fatalf("frame from %d/%d", fr.SystemID, fr.ComponentID)
		}
		switch fr.Message.(type) {
		case *common.MessageHeartbeat:
			seen["heartbeat"] = true
		case *common.MessageLocalPositionNed:
			seen["local"] = true
		case *common.MessageGlobalPositionInt:
			seen["global"] = true
		case *common.MessageAttitude:
			seen["attitude"] = true
		}
	}
	if len(seen) < 4 {
		t.Errorf("saw only %v", seen)
	}
}

func TestArmTakeoffAndGoto(t *testing.T) {
	v := newVehicle(t)

	if r := send(t, v, common.MAV_CMD_DO_SET_MODE, 1, float32(link.ModeGuided)); r != common.MAV_RESULT_ACCEPTED {
		t.Fatalf("set GUIDED = %v", r)
	}
	if r := send(t, v, common.MAV_CMD_COMPONENT_ARM_DISARM, 1); r != common.MAV_RESULT_ACCEPTED {
		t.Fatalf("arm = %v", r)
	}
	if r := send(t, v, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, 5); r != common.MAV_RESULT_ACCEPTED {
		t.Fatalf("takeoff = %v", r)
	}
	waitFor(t, "takeoff altitude", func() bool { return v.Position().Down <= -4.9 })

	// Disarming in the air is refused
	if r := send(t, v, common.MAV_CMD_COMPONENT_ARM_DISARM, 0); r != common.MAV_RESULT_DENIED {
		t.Errorf("airborne disarm = %v, want DENIED", r)
	}

	target := geo.NED{North: 1, East: 3, Down: -3}
	if err := v.Send(context.Background(), &common.MessageSetPositionTargetLocalNed{
		TargetSystem: 1, X: 1, Y: 3, Z: -3,
	}); err != nil {
		t.Fatalf("Send target: %v", err)
	}
	waitFor(t, "arrival", func() bool { return geo.Distance(v.Position(), target) < 0.01 })

	if r := send(t, v, common.MAV_CMD_NAV_LAND); r != common.MAV_RESULT_ACCEPTED {
		t.Fatalf("land = %v", r)
	}
	waitFor(t, "auto disarm", func() bool { return !v.Armed() })
	if d := v.Position().Down; d < groundDown {
		t.Errorf("disarmed in the air at Down=%v", d)
	}
}

func TestTakeoffRequiresArmedGuided(t *testing.T) {
	v := newVehicle(t)
	if r := send(t, v, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, 5); r != common.MAV_RESULT_FAILED {
		t.Errorf("takeoff while disarmed = %v, want FAILED", r)
	}
}

func TestTargetsIgnoredOutsideGuided(t *testing.T) {
	v := newVehicle(t)
	send(t, v, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)

	_ = v.Send(context.Background(), &common.MessageSetPositionTargetLocalNed{TargetSystem: 1, X: 10})
	time.Sleep(50 * time.Millisecond)
	if p := v.Position(); p != (geo.NED{}) {
		t.Errorf("vehicle moved in STABILIZE: %v", p)
	}
}

func TestGlobalTarget(t *testing.T) {
	v := newVehicle(t)
	send(t, v, common.MAV_CMD_DO_SET_MODE, 1, float32(link.ModeGuided))
	send(t, v, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)

	want := geo.NED{North: 5, East: -5, Down: -4}
	lat, lon, alt := v.cfg.Home.ToGeo(want)
	_ = v.Send(context.Background(), &common.MessageSetPositionTargetGlobalInt{
		TargetSystem: 1,
		LatInt:       int32(lat * 1e7),
		LonInt:       int32(lon * 1e7),
		Alt:          float32(alt),
	})
	waitFor(t, "global arrival", func() bool { return geo.Distance(v.Position(), want) < 0.05 })
}

func TestUnknownModeDenied(t *testing.T) {
	v := newVehicle(t)
	_ = v.Send(context.Background(), &common.MessageSetMode{TargetSystem: 1, CustomMode: 99})
	if r := nextAck(t, v, common.MAV_CMD_DO_SET_MODE); r != common.MAV_RESULT_DENIED {
		t.Errorf("unknown mode = %v, want DENIED", r)
	}
}

func TestOtherSystemIgnored(t *testing.T) {
	v := newVehicle(t)
	_ = v.Send(context.Background(), &common.MessageCommandLong{
		TargetSystem: 7,
		Command:      common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:       1,
	})
	time.Sleep(20 * time.Millisecond)
	if v.Armed() {
		t.Error("command for another system armed the vehicle")
	}
}

func TestFreeze(t *testing.T) {
	v := newVehicle(t)
	send(t, v, common.MAV_CMD_DO_SET_MODE, 1, float32(link.ModeGuided))
	send(t, v, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
	v.Freeze(true)
	send(t, v, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, 5)

	time.Sleep(50 * time.Millisecond)
	if v.Position().Down != 0 {
		t.Errorf("frozen vehicle moved to %v", v.Position())
	}
	v.Freeze(false)
	waitFor(t, "climb after unfreeze", func() bool { return v.Position().Down < -1 })
}

func TestInjectGarbage(t *testing.T) {
	v := New(Config{Step: time.Hour}, nil)
	defer v.Close()

	v.InjectGarbage()
	_, err := v.Receive(context.Background(), time.Second)
	if !errors.Is(err, link.ErrDecode) {
		t.Fatalf("err = %v, want decode error", err)
	}

	// The link stays usable
	if _, err := v.Receive(context.Background(), 10*time.Millisecond); !errors.Is(err, link.ErrReceiveTimeout) {
		t.Errorf("err = %v, want ErrReceiveTimeout", err)
	}
}

func TestSever(t *testing.T) {
	v := newVehicle(t)
	v.Sever()

	if _, err := v.Receive(context.Background(), time.Second); !errors.Is(err, link.ErrTransport) {
		t.Errorf("Receive = %v, want ErrTransport", err)
	}
	if err := v.Send(context.Background(), &common.MessageHeartbeat{}); !errors.Is(err, link.ErrTransport) {
		t.Errorf("Send = %v, want ErrTransport", err)
	}
}

func TestReceiveContextCancel(t *testing.T) {
	v := New(Config{Step: time.Hour}, nil)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Receive(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
