// Package relay pushes the vehicle position to a GrADyS ground station at a
// fixed rate.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
	"github.com/Project-GrADyS/uav-api/internal/metrics"
	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// Ground-station message constants.
const (
	updatePath = "/update-info/"
	deviceUAV  = "uav"
	typeUAV    = "102"
)

// ErrNoFix means there was nothing to publish yet.
var ErrNoFix = errors.New("relay: no valid GPS position")

// DeliveryError reports one failed POST.
type DeliveryError struct {
	Seq    uint64
	Status int // zero when the request never got a response
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay: update %d rejected with HTTP %d", e.Seq, e.Status)
	}
	return fmt.Sprintf("relay: update %d failed: %v", e.Seq, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StateReader is the read side of the telemetry store.
type StateReader interface {
	Read() (telemetry.Snapshot, bool)
}

// Config configures a Relay.
type Config struct {
	Address     string // ground station host:port
	Period      time.Duration
	HTTPTimeout time.Duration
	SystemID    int

	// Advertise is the address the ground station should use to reach this
	// bridge; empty means 127.0.0.1:<APIPort>/.
	Advertise string
	APIPort   int
}

// NewConfig derives relay settings from the bridge configuration.
func NewConfig(cfg *config.Config) Config {
	port := 0
	if i := strings.LastIndex(cfg.API.Addr, ":"); i >= 0 {
		port, _ = strconv.Atoi(cfg.API.Addr[i+1:])
	}
	return Config{
		Address:     cfg.Relay.Address,
		Period:      cfg.Relay.Period,
		HTTPTimeout: cfg.Relay.HTTPTimeout,
		SystemID:    cfg.Vehicle.SystemID,
		Advertise:   cfg.Relay.Advertise,
		APIPort:     port,
	}
}

// Relay posts location updates to the ground station.
type Relay struct {
	cfg      Config
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	state    StateReader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	seq      atomic.Uint64
}

// New creates a relay. It does nothing until Run is called.
func New(cfg Config, state StateReader, m *metrics.Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		cfg:      cfg,
		endpoint: "http://" + cfg.Address + updatePath,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  rate.NewLimiter(rate.Every(cfg.Period), 1),
		state:    state,
		metrics:  m,
		logger:   logging.OrDiscard(logger).With("component", "relay", "gs", cfg.Address),
	}
}

// Run publishes once per period until ctx is cancelled. Delivery failures
// are logged and counted; they never stop the loop.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay started", "period", r.cfg.Period)
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Info("relay stopped", "sent", r.seq.Load())
			return nil
		}

		err := r.Publish(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoFix):
			r.logger.Debug("no position yet, skipping update")
		case ctx.Err() != nil:
			return nil
		default:
			r.logger.Warn("location update failed", "error", err)
		}
	}
}

// Publish sends one location update. The sequence number advances only after
// a 2xx reply, so a failed update is resent with the same number.
func (r *Relay) Publish(ctx context.Context) error {
	snap, ok := r.state.Read()
	if !ok || !snap.GPS.Valid {
		return ErrNoFix
	}

	seq := r.seq.Load()
	form := url.Values{
		"id":     {strconv.Itoa(r.cfg.SystemID)},
		"lat":    {formatFloat(snap.GPS.Lat)},
		"lng":    {formatFloat(snap.GPS.Lon)},
		"alt":    {formatFloat(snap.GPS.RelativeAlt)},
		"device": {deviceUAV},
		"type":   {typeUAV},
		"seq":    {strconv.FormatUint(seq, 10)},
		"ip":     {r.advertise()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		r.metrics.RelayPost("error")
		return &DeliveryError{Seq: seq, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.RelayPost("error")
		return &DeliveryError{Seq: seq, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.metrics.RelayPost("error")
		return &DeliveryError{Seq: seq, Status: resp.StatusCode}
	}

	r.seq.Add(1)
	r.metrics.RelayPost("ok")
	r.logger.Debug("location sent", "seq", seq)
	return nil
}

// Sent is the number of delivered updates.
func (r *Relay) Sent() uint64 {
	return r.seq.Load()
}

func (r *Relay) advertise() string {
	if r.cfg.Advertise != "" {
		return r.cfg.Advertise
	}
	return fmt.Sprintf("127.0.0.1:%d/", r.cfg.APIPort)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
