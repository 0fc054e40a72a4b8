package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Project-GrADyS/uav-api/internal/logging"
)

// Options tunes the MAVLink node.
type Options struct {
	// SystemID is the id this bridge uses for outgoing frames.
	SystemID uint8

	// StreamRate is the telemetry rate (Hz) requested from ArduPilot; zero
	// leaves the autopilot defaults alone.
	StreamRate int
}

// MavLink is a Link over a gomavlib node. Writes and the event stream are
// independent, so Send and Receive may run concurrently.
type MavLink struct {
	node     *gomavlib.Node
	endpoint Endpoint
	logger   *slog.Logger

	mu        sync.Mutex
	openChans int
	everOpen  bool

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Link = (*MavLink)(nil)

// Dial opens the transport described by ep.
func Dial(ep Endpoint, opts Options, logger *slog.Logger) (*MavLink, error) {
	logger = logging.OrDiscard(logger).With("endpoint", ep.String())

	ep, err := ep.Resolve()
	if err != nil {
		return nil, NewTransportError("resolve endpoint", err)
	}
	conf, err := ep.conf()
	if err != nil {
		return nil, err
	}

	sysID := opts.SystemID
	if sysID == 0 {
		sysID = 255
	}
	nodeConf := gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{conf},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: sysID,
	}
	if opts.StreamRate > 0 {
		nodeConf.StreamRequestEnable = true
		nodeConf.StreamRequestFrequency = opts.StreamRate
	}

	node, err := gomavlib.NewNode(nodeConf)
	if err != nil {
		return nil, NewTransportError("open node", err)
	}
	logger.Info("vehicle link opened", "gcsSysid", sysID)

	return &MavLink{
		node:     node,
		endpoint: ep,
		logger:   logger,
		closed:   make(chan struct{}),
	}, nil
}

// Endpoint returns the resolved endpoint.
func (l *MavLink) Endpoint() Endpoint {
	return l.endpoint
}

// Send writes msg to every open channel.
func (l *MavLink) Send(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.closed:
		return NewTransportError("send", fmt.Errorf("link closed"))
	default:
	}
	if err := l.node.WriteMessageAll(msg); err != nil {
		return NewTransportError("send", err)
	}
	return nil
}

// Receive returns the next decoded frame. Channel open events are consumed
// without returning; the last open channel closing is a transport failure.
func (l *MavLink) Receive(ctx context.Context, wait time.Duration) (Frame, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-l.closed:
			return Frame{}, NewTransportError("receive", fmt.Errorf("link closed"))
		case <-timer.C:
			return Frame{}, ErrReceiveTimeout
		case evt, ok := <-events:
			if !ok {
				return Frame{}, NewTransportError("receive", fmt.Errorf("event stream closed"))
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				return Frame{
					SystemID:    e.SystemID(),
					ComponentID: e.ComponentID(),
					Message:     e.Message(),
				}, nil

			case *gomavlib.EventParseError:
				return Frame{}, &DecodeError{Err: e.Error}

			case *gomavlib.EventChannelOpen:
				l.mu.Lock()
				l.openChans++
				l.everOpen = true
				l.mu.Unlock()
				l.logger.Info("channel opened", "channel", fmt.Sprint(e.Channel))

			case *gomavlib.EventChannelClose:
				l.mu.Lock()
				if l.openChans > 0 {
					l.openChans--
				}
				lost := l.everOpen && l.openChans == 0
				l.mu.Unlock()
				l.logger.Warn("channel closed", "channel", fmt.Sprint(e.Channel))
				if lost {
					return Frame{}, NewTransportError("receive", fmt.Errorf("channel closed"))
				}
			}
		}
	}
}

// Close shuts the node down. Safe to call more than once.
func (l *MavLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.node.Close()
		l.logger.Info("vehicle link closed")
	})
	return nil
}
