// Package vehicle owns the per-process context: the link, the telemetry
// store and hub, the command gateway, the relay and the simulator
// supervisor, and the order in which they start and stop.
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Project-GrADyS/uav-api/internal/command"
	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/drain"
	"github.com/Project-GrADyS/uav-api/internal/link"
	"github.com/Project-GrADyS/uav-api/internal/link/simlink"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/relay"
	"github.com/Project-GrADyS/uav-api/internal/sitl"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// Deps are the shared services a Vehicle uses. All fields are optional.
type Deps struct {
	Metrics      *metrics.Metrics
	Audit        command.AuditLogger
	Logger       *slog.Logger
	ProcessTable sitl.ProcessTable
}

// Health is a point-in-time view of the bridge.
type Health struct {
	Connected   bool      `json:"connected"`
	Endpoint    string    `json:"endpoint"`
	Telemetry   bool      `json:"telemetry"`
	Sequence    uint64    `json:"sequence"`
	LastUpdate  time.Time `json:"lastUpdate,omitempty"`
	Subscribers int       `json:"subscribers"`
	Simulator   bool      `json:"simulator"`
}

// Vehicle is one bridged vehicle.
type Vehicle struct {
	cfg      *config.Config
	endpoint link.Endpoint
	deps     Deps
	logger   *slog.Logger

	store *telemetry.Store
	hub   *telemetry.Hub

	mu      sync.Mutex
	started bool
	link    link.Link
	gateway *command.Gateway
	relay   *relay.Relay
	sup     *sitl.Supervisor
	sim     *sitl.ProcessRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// New validates the connection descriptor and builds the telemetry side.
// Nothing is opened until Start.
func New(cfg *config.Config, deps Deps) (*Vehicle, error) {
	ep, err := link.ParseEndpoint(cfg.Vehicle.Connection)
	if err != nil {
		return nil, err
	}

	logger := logging.OrDiscard(deps.Logger).With("vehicle", cfg.Vehicle.SystemID)
	store := telemetry.NewStore()
	hub := telemetry.NewHub(cfg.Timing, func() telemetry.Summary {
		snap, _ := store.Read()
		return snap.Summary()
	}, logger)

	return &Vehicle{
		cfg:      cfg,
		endpoint: ep,
		deps:     deps,
		logger:   logger,
		store:    store,
		hub:      hub,
		errCh:    make(chan error, 1),
	}, nil
}

// Start spawns the simulator if configured, opens the link and starts the
// drain loop and the relay. The background work outlives ctx; it stops on
// Shutdown.
func (v *Vehicle) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return errors.New("vehicle already started")
	}

	// Step 1: simulator
	if v.cfg.SITL.Enabled && v.endpoint.Kind != link.KindSim {
		if err := v.startSimulator(ctx); err != nil {
			return err
		}
	}

	// Step 2: link
	l, err := v.dial()
	if err != nil {
		v.teardownSimulator(ctx)
		return err
	}
	v.link = l

	// Step 3: gateway
	v.gateway = command.New(l, v.store, v.hub, v.deps.Audit, v.deps.Metrics, command.NewConfig(v.cfg), v.logger)

	// Step 4: background loops
	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	loop := drain.New(l, v.store, v.hub, v.deps.Metrics, drain.Config{
		TargetSystem: uint8(v.cfg.Vehicle.SystemID),
		Poll:         v.cfg.Timing.DrainPoll,
	}, v.logger)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := loop.Run(runCtx); err != nil {
			v.logger.Error("drain loop stopped", "error", err)
			select {
			case v.errCh <- err:
			default:
			}
		}
	}()

	if v.cfg.Relay.Address != "" {
		v.relay = relay.New(relay.NewConfig(v.cfg), v.store, v.deps.Metrics, v.logger)
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			_ = v.relay.Run(runCtx)
		}()
	}

	v.started = true
	v.logger.Info("vehicle started", "endpoint", v.endpoint.String(), "relay", v.cfg.Relay.Address != "")
	return nil
}

func (v *Vehicle) startSimulator(ctx context.Context) error {
	sup, err := sitl.NewSupervisor(v.deps.ProcessTable, v.cfg.SITL.KillGrace, v.deps.Metrics, v.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", sitl.ErrSpawn, err)
	}
	v.sup = sup

	rec, err := sup.Spawn(ctx, sitl.NewParams(v.cfg, simulatorOutput(v.endpoint)))
	if err != nil {
		return err
	}
	v.sim = rec

	v.logger.Info("waiting for simulator to settle", "settle", v.cfg.SITL.Settle)
	select {
	case <-time.After(v.cfg.SITL.Settle):
		return nil
	case <-rec.Done():
		err := fmt.Errorf("%w: simulator exited during settle: %v", sitl.ErrSpawn, rec.Err())
		v.teardownSimulator(ctx)
		return err
	case <-ctx.Done():
		v.teardownSimulator(context.Background())
		return ctx.Err()
	}
}

func (v *Vehicle) dial() (link.Link, error) {
	if v.endpoint.Kind == link.KindSim {
		simCfg := simlink.DefaultConfig()
		simCfg.SystemID = uint8(v.cfg.Vehicle.SystemID)
		return simlink.New(simCfg, v.logger), nil
	}
	return link.Dial(v.endpoint, link.Options{
		SystemID:   uint8(v.cfg.Vehicle.GCSSystemID),
		StreamRate: v.cfg.Vehicle.StreamRate,
	}, v.logger)
}

// Shutdown stops the loops, closes the link, stops the hub and tears the
// simulator down, in that order.
func (v *Vehicle) Shutdown(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started {
		v.hub.Stop()
		return nil
	}
	v.started = false

	var errs []error

	v.cancel()
	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for background loops: %w", ctx.Err()))
	}

	if err := v.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close link: %w", err))
	}
	v.hub.Stop()

	if err := v.teardownSimulator(ctx); err != nil {
		errs = append(errs, err)
	}

	v.logger.Info("vehicle stopped")
	return errors.Join(errs...)
}

func (v *Vehicle) teardownSimulator(ctx context.Context) error {
	if v.sup == nil || v.sim == nil {
		return nil
	}
	report, err := v.sup.Teardown(ctx, v.sim.Tag)
	v.sim = nil
	if err != nil {
		v.logger.Error("simulator teardown incomplete", "error", err, "failed", report.Failed)
	}
	return err
}

// Err reports a drain loop failure, such as losing the transport.
func (v *Vehicle) Err() <-chan error {
	return v.errCh
}

// Gateway is the command gateway; nil before Start.
func (v *Vehicle) Gateway() *command.Gateway {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gateway
}

// Store is the telemetry store.
func (v *Vehicle) Store() *telemetry.Store {
	return v.store
}

// Hub is the event hub.
func (v *Vehicle) Hub() *telemetry.Hub {
	return v.hub
}

// Health summarizes the link and telemetry state.
func (v *Vehicle) Health() Health {
	v.mu.Lock()
	started, sim := v.started, v.sim != nil
	v.mu.Unlock()

	snap, ok := v.store.Read()
	return Health{
		Connected:   started,
		Endpoint:    v.endpoint.String(),
		Telemetry:   ok,
		Sequence:    snap.Sequence,
		LastUpdate:  snap.UpdatedAt,
		Subscribers: v.hub.ClientCount(),
		Simulator:   sim,
	}
}

// simulatorOutput is the --out target that makes SITL stream to the
// bridge, or "" when the bridge connects to SITL itself.
func simulatorOutput(ep link.Endpoint) string {
	if ep.Kind != link.KindUDPServer {
		return ""
	}
	host, port, err := net.SplitHostPort(ep.Address)
	if err != nil {
		return ep.Address
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
