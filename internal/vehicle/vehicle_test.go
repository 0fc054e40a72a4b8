package vehicle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/link"
)

func simConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Vehicle.Connection = "sim"
	cfg.Timing.DrainPoll = 20 * time.Millisecond
	cfg.Timing.AckPoll = 5 * time.Millisecond
	cfg.Timing.ArrivalPoll = 20 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewRejectsBadConnection(t *testing.T) {
	cfg := config.Defaults()
	cfg.Vehicle.Connection = "carrier-pigeon:coop"

	if _, err := New(cfg, Deps{}); err == nil {
		t.Error("expected error for unknown connection scheme")
	}
}

func TestStartAndShutdownSimulated(t *testing.T) {
	v, err := New(simConfig(), Deps{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if v.Gateway() != nil {
		t.Error("gateway exists before Start")
	}

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := v.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	waitFor(t, "telemetry", func() bool {
		snap, ok := v.Store().Read()
		return ok && snap.Status.Valid && snap.GPS.Valid
	})

	h := v.Health()
	if !h.Connected || !h.Telemetry || h.Endpoint != "sim" || h.Sequence == 0 {
		t.Errorf("Health() = %+v", h)
	}

	out := v.Gateway().Arm(context.Background())
	if !out.OK() {
		t.Errorf("Arm() = %+v", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := v.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if v.Health().Connected {
		t.Error("still connected after Shutdown")
	}

	select {
	case err := <-v.Err():
		t.Errorf("unexpected drain failure: %v", err)
	default:
	}
}

func TestRelayRunsAgainstGroundStation(t *testing.T) {
	posts := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		select {
		case posts <- r.PostForm.Get("id"):
		default:
		}
	}))
	defer srv.Close()

	cfg := simConfig()
	cfg.Relay.Address = strings.TrimPrefix(srv.URL, "http://")
	cfg.Relay.Period = 20 * time.Millisecond

	v, err := New(cfg, Deps{})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer v.Shutdown(context.Background())

	select {
	case id := <-posts:
		if id != "10" {
			t.Errorf("id = %q, want 10", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ground station never received an update")
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	v, err := New(simConfig(), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestSimulatorOutput(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"udp:127.0.0.1:17171", "127.0.0.1:17171"},
		{"udpin:0.0.0.0:14550", "127.0.0.1:14550"},
		{"tcp:127.0.0.1:5760", ""},
		{"udpout:10.0.0.2:14550", ""},
	}
	for _, tt := range tests {
		ep, err := link.ParseEndpoint(tt.desc)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q) = %v", tt.desc, err)
		}
		if got := simulatorOutput(ep); got != tt.want {
			t.Errorf("simulatorOutput(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}
}
