package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Project-GrADyS/uav-api/internal/auth"
	"github.com/Project-GrADyS/uav-api/internal/command"
	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

type call struct {
	name    string
	args    []float64
	text    string
	waiting bool
}

// fakeGateway records calls and answers with a canned outcome.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []call
	outcome command.Outcome
	arrival *command.ArrivalPolicy
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		outcome: command.Outcome{Status: command.StatusOK, Code: "SUCCESS"},
		arrival: &command.ArrivalPolicy{Tolerance: 1, Interval: time.Second, Timeout: time.Minute},
	}
}

func (f *fakeGateway) record(c call) command.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	out := f.outcome
	out.Command = c.name
	return out
}

func (f *fakeGateway) last(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("gateway was not called")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) Arm(context.Context) command.Outcome    { return f.record(call{name: "arm"}) }
func (f *fakeGateway) Disarm(context.Context) command.Outcome { return f.record(call{name: "disarm"}) }
func (f *fakeGateway) Land(context.Context) command.Outcome   { return f.record(call{name: "land"}) }

func (f *fakeGateway) Takeoff(_ context.Context, alt float64, wait *command.ArrivalPolicy) command.Outcome {
	return f.record(call{name: "takeoff", args: []float64{alt}, waiting: wait != nil})
}

func (f *fakeGateway) GotoNED(_ context.Context, x, y, z float64, wait *command.ArrivalPolicy) command.Outcome {
	return f.record(call{name: "goto_ned", args: []float64{x, y, z}, waiting: wait != nil})
}

func (f *fakeGateway) GotoGPS(_ context.Context, lat, lon, alt float64, wait *command.ArrivalPolicy) command.Outcome {
	return f.record(call{name: "goto_gps", args: []float64{lat, lon, alt}, waiting: wait != nil})
}

func (f *fakeGateway) Drive(_ context.Context, dx, dy, dz float64, wait *command.ArrivalPolicy) command.Outcome {
	return f.record(call{name: "drive", args: []float64{dx, dy, dz}, waiting: wait != nil})
}

func (f *fakeGateway) RTL(_ context.Context, waitLanded bool) command.Outcome {
	return f.record(call{name: "rtl", waiting: waitLanded})
}

func (f *fakeGateway) SetMode(_ context.Context, name string) command.Outcome {
	return f.record(call{name: "mode", text: name})
}

func (f *fakeGateway) DefaultArrival() *command.ArrivalPolicy { return f.arrival }

func newTestServer(t *testing.T, gw command.GatewayPort, store *telemetry.Store, mw *auth.Middleware) *Server {
	t.Helper()
	return NewServer(Deps{
		Gateway: gw,
		State:   store,
		Auth:    mw,
		Health:  func() any { return map[string]bool{"linked": true} },
	}, config.APIConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: body is not an envelope: %v (%q)", method, path, err, rec.Body.String())
	}
	if resp.CorrelationID == "" {
		t.Errorf("%s %s: missing correlationId", method, path)
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(), telemetry.NewStore(), nil)

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || resp.Result != "ok" {
		t.Fatalf("GET /health = %d %q", rec.Code, resp.Result)
	}
	data := resp.Data.(map[string]any)
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
	if _, ok := data["vehicle"]; !ok {
		t.Error("health is missing vehicle section")
	}
}

func TestCommandRoutes(t *testing.T) {
	tests := []struct {
		path    string
		name    string
		args    []float64
		text    string
		waiting bool
	}{
		{"/command/arm", "arm", nil, "", false},
		{"/command/disarm", "disarm", nil, "", false},
		{"/command/land", "land", nil, "", false},
		{"/command/takeoff?alt=5", "takeoff", []float64{5}, "", false},
		{"/command/rtl", "rtl", nil, "", false},
		{"/command/rtl?wait=true", "rtl", nil, "", true},
		{"/command/mode?name=LOITER", "mode", nil, "LOITER", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			gw := newFakeGateway()
			srv := newTestServer(t, gw, telemetry.NewStore(), nil)

			rec, resp := do(t, srv.Handler(), http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK || resp.Result != "ok" {
				t.Fatalf("GET %s = %d %q", tt.path, rec.Code, resp.Result)
			}
			got := gw.last(t)
			if got.name != tt.name || got.text != tt.text || got.waiting != tt.waiting {
				t.Errorf("call = %+v, want %s", got, tt.name)
			}
			for i, v := range tt.args {
				if got.args[i] != v {
					t.Errorf("arg[%d] = %v, want %v", i, got.args[i], v)
				}
			}
			data := resp.Data.(map[string]any)
			if data["command"] != tt.name || data["status"] != "ok" {
				t.Errorf("data = %v", data)
			}
		})
	}
}

func TestCommandQueryValidation(t *testing.T) {
	for _, path := range []string{
		"/command/takeoff",
		"/command/takeoff?alt=high",
		"/command/rtl?wait=maybe",
		"/command/mode",
	} {
		t.Run(path, func(t *testing.T) {
			gw := newFakeGateway()
			srv := newTestServer(t, gw, telemetry.NewStore(), nil)

			rec, resp := do(t, srv.Handler(), http.MethodGet, path, "")
			if rec.Code != http.StatusBadRequest || resp.Code != "BAD_REQUEST" {
				t.Errorf("GET %s = %d %q, want 400 BAD_REQUEST", path, rec.Code, resp.Code)
			}
			if gw.count() != 0 {
				t.Error("gateway called for invalid request")
			}
		})
	}
}

func TestOutcomeStatusMapping(t *testing.T) {
	tests := []struct {
		code   string
		status command.Status
		want   int
	}{
		{"REJECTED", command.StatusError, http.StatusConflict},
		{"PRECONDITION", command.StatusError, http.StatusConflict},
		{"BAD_REQUEST", command.StatusError, http.StatusBadRequest},
		{"UNAVAILABLE", command.StatusError, http.StatusServiceUnavailable},
		{"COMMAND_TIMEOUT", command.StatusTimeout, http.StatusGatewayTimeout},
		{"ARRIVAL_TIMEOUT", command.StatusTimeout, http.StatusGatewayTimeout},
		{"INTERNAL", command.StatusError, http.StatusInternalServerError},
		{"SOMETHING_NEW", command.StatusError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			gw := newFakeGateway()
			gw.outcome = command.Outcome{Status: tt.status, Code: tt.code, Detail: "failed"}
			srv := newTestServer(t, gw, telemetry.NewStore(), nil)

			rec, resp := do(t, srv.Handler(), http.MethodGet, "/command/arm", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if resp.Result != "error" || resp.Code != tt.code || resp.Message != "failed" {
				t.Errorf("envelope = %+v", resp)
			}
			details := resp.Details.(map[string]any)
			if details["command"] != "arm" || details["status"] != string(tt.status) {
				t.Errorf("details = %v", details)
			}
		})
	}
}

func TestMovementRoutes(t *testing.T) {
	tests := []struct {
		path    string
		body    string
		name    string
		args    []float64
		waiting bool
	}{
		{"/movement/go_to_ned", `{"x":1,"y":3,"z":-3}`, "goto_ned", []float64{1, 3, -3}, false},
		{"/movement/go_to_ned_wait", `{"x":1,"y":3,"z":-3}`, "goto_ned", []float64{1, 3, -3}, true},
		{"/movement/drive", `{"x":2,"y":0,"z":0}`, "drive", []float64{2, 0, 0}, false},
		{"/movement/drive_wait", `{"x":0,"y":-1,"z":-1}`, "drive", []float64{0, -1, -1}, true},
		{"/movement/go_to_gps", `{"lat":-15.84,"long":-47.92,"alt":10}`, "goto_gps", []float64{-15.84, -47.92, 10}, false},
		{"/movement/go_to_gps_wait", `{"lat":-15.84,"lon":-47.92,"alt":10}`, "goto_gps", []float64{-15.84, -47.92, 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			gw := newFakeGateway()
			srv := newTestServer(t, gw, telemetry.NewStore(), nil)

			rec, resp := do(t, srv.Handler(), http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusOK || resp.Result != "ok" {
				t.Fatalf("POST %s = %d %+v", tt.path, rec.Code, resp)
			}
			got := gw.last(t)
			if got.name != tt.name || got.waiting != tt.waiting {
				t.Errorf("call = %+v", got)
			}
			for i, v := range tt.args {
				if got.args[i] != v {
					t.Errorf("arg[%d] = %v, want %v", i, got.args[i], v)
				}
			}
		})
	}
}

func TestMovementBodyValidation(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed", "/movement/go_to_ned", `{"x":1,`},
		{"unknown field", "/movement/go_to_ned", `{"x":1,"y":2,"z":3,"w":4}`},
		{"trailing data", "/movement/drive", `{"x":1,"y":2,"z":3}{}`},
		{"missing z", "/movement/drive", `{"x":1,"y":2}`},
		{"wrong type", "/movement/go_to_ned", `{"x":"north","y":2,"z":3}`},
		{"missing lon", "/movement/go_to_gps", `{"lat":1,"alt":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			srv := newTestServer(t, gw, telemetry.NewStore(), nil)

			rec, resp := do(t, srv.Handler(), http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest || resp.Code != "BAD_REQUEST" {
				t.Errorf("POST %s %s = %d %q", tt.path, tt.body, rec.Code, resp.Code)
			}
			if gw.count() != 0 {
				t.Error("gateway called for invalid body")
			}
		})
	}
}

func TestTelemetryUnavailable(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(), telemetry.NewStore(), nil)

	for _, path := range []string{"/telemetry/general", "/telemetry/ned", "/telemetry/gps"} {
		rec, resp := do(t, srv.Handler(), http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable || resp.Code != "UNAVAILABLE" {
			t.Errorf("GET %s = %d %q, want 503 UNAVAILABLE", path, rec.Code, resp.Code)
		}
	}
}

func TestTelemetryReads(t *testing.T) {
	store := telemetry.NewStore()
	store.UpdatePosition(telemetry.Position{X: 1, Y: 3, Z: -5, VX: 0.5})
	store.UpdateGPSFix(3, 12)
	store.UpdateGPS(telemetry.GPS{Lat: -15.84, Lon: -47.92, Alt: 1010, RelativeAlt: 10})
	store.UpdateStatus(telemetry.Status{Armed: true, Mode: "GUIDED"})
	srv := newTestServer(t, newFakeGateway(), store, nil)

	_, resp := do(t, srv.Handler(), http.MethodGet, "/telemetry/ned", "")
	data := resp.Data.(map[string]any)
	pos := data["position"].(map[string]any)
	if pos["x"] != 1.0 || pos["y"] != 3.0 || pos["z"] != -5.0 {
		t.Errorf("ned position = %v", pos)
	}
	if vel := data["velocity"].(map[string]any); vel["vx"] != 0.5 {
		t.Errorf("ned velocity = %v", vel)
	}

	_, resp = do(t, srv.Handler(), http.MethodGet, "/telemetry/gps", "")
	data = resp.Data.(map[string]any)
	gps := data["position"].(map[string]any)
	if gps["lat"] != -15.84 || gps["relative_alt"] != 10.0 {
		t.Errorf("gps position = %v", gps)
	}
	if data["satellites"] != 12.0 {
		t.Errorf("satellites = %v, want 12", data["satellites"])
	}

	_, resp = do(t, srv.Handler(), http.MethodGet, "/telemetry/general", "")
	data = resp.Data.(map[string]any)
	if data["armed"] != true || data["mode"] != "GUIDED" {
		t.Errorf("general = %v", data)
	}
}

func TestAuthScopes(t *testing.T) {
	const secret = "api-secret"
	v, err := auth.NewVerifier(secret)
	if err != nil {
		t.Fatalf("NewVerifier() = %v", err)
	}
	store := telemetry.NewStore()
	store.UpdateStatus(telemetry.Status{Mode: "GUIDED"})
	gw := newFakeGateway()
	srv := newTestServer(t, gw, store, auth.NewMiddleware(v, nil))

	reader, err := auth.IssueToken(secret, "observer", []string{auth.ScopeRead}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() = %v", err)
	}
	pilot, err := auth.IssueToken(secret, "pilot", []string{auth.ScopeRead, auth.ScopeControl}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() = %v", err)
	}

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"health open", "/health", "", http.StatusOK},
		{"telemetry needs token", "/telemetry/general", "", http.StatusUnauthorized},
		{"reader reads", "/telemetry/general", reader, http.StatusOK},
		{"reader cannot arm", "/command/arm", reader, http.StatusForbidden},
		{"pilot arms", "/command/arm", pilot, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}

	if gw.count() != 1 {
		t.Errorf("gateway calls = %d, want 1", gw.count())
	}
}

func TestNotFoundAndMethod(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(), telemetry.NewStore(), nil)

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound || resp.Code != "NOT_FOUND" {
		t.Errorf("GET /nope = %d %q", rec.Code, resp.Code)
	}
	rec, resp = do(t, srv.Handler(), http.MethodGet, "/movement/drive", "")
	if rec.Code != http.StatusMethodNotAllowed || resp.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("GET /movement/drive = %d %q", rec.Code, resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	srv := NewServer(Deps{
		Gateway: newFakeGateway(),
		State:   telemetry.NewStore(),
		Metrics: m,
	}, config.APIConfig{}, nil)

	do(t, srv.Handler(), http.MethodGet, "/command/arm", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `method="GET"`) {
		t.Error("metrics output does not include request counters")
	}
}

func TestEventStream(t *testing.T) {
	store := telemetry.NewStore()
	store.UpdateStatus(telemetry.Status{Armed: true, Mode: "GUIDED"})
	hub := telemetry.NewHub(config.TimingConfig{HeartbeatInterval: time.Hour, EventBufferSize: 10},
		func() telemetry.Summary {
			snap, _ := store.Read()
			return snap.Summary()
		}, nil)
	defer hub.Stop()

	srv := NewServer(Deps{Gateway: newFakeGateway(), State: store, Stream: hub}, config.APIConfig{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/telemetry/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest() = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /telemetry/stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: ready" {
			break
		}
	}
	if !scanner.Scan() || !strings.Contains(scanner.Text(), `"mode":"GUIDED"`) {
		t.Errorf("ready event data = %q", scanner.Text())
	}

	hub.Publish(telemetry.Event{Type: telemetry.EventArmed, Data: map[string]any{"armed": false}})
	for scanner.Scan() {
		if scanner.Text() == "event: armed" {
			return
		}
	}
	t.Error("armed event not received")
}

func TestEventStreamUnavailable(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(), telemetry.NewStore(), nil)

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/telemetry/stream", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Code != "UNAVAILABLE" {
		t.Errorf("GET /telemetry/stream = %d %q", rec.Code, resp.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t, newFakeGateway(), telemetry.NewStore(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() = %v after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop")
	}
}

func TestGeneralTelemetryFlagsMissingPosition(t *testing.T) {
	store := telemetry.NewStore()
	store.UpdateGPS(telemetry.GPS{Lat: -15.84, Lon: -47.92, RelativeAlt: 10})
	srv := newTestServer(t, newFakeGateway(), store, nil)

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/telemetry/general", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /telemetry/general = %d", rec.Code)
	}
	data := resp.Data.(map[string]any)
	if pos := data["position"].(map[string]any); pos["valid"] != false {
		t.Errorf("position = %v, want valid=false", pos)
	}
	if data["statusValid"] != false {
		t.Errorf("statusValid = %v, want false", data["statusValid"])
	}
	if gps := data["gps"].(map[string]any); gps["valid"] != true {
		t.Errorf("gps = %v, want valid=true", gps)
	}
}
