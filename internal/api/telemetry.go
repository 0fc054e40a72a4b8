package api

import (
	"net/http"

	"github.com/Project-GrADyS/uav-api/internal/telemetry"
)

// snapshot writes 503 and returns false until telemetry has arrived.
func (s *Server) snapshot(w http.ResponseWriter) (telemetry.Snapshot, bool) {
	snap, ok := s.deps.State.Read()
	if !ok {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No telemetry received yet", nil)
	}
	return snap, ok
}

// handleGeneral handles GET /telemetry/general
func (s *Server) handleGeneral(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	WriteSuccess(w, snap.Summary())
}

// handleNED handles GET /telemetry/ned
func (s *Server) handleNED(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	if !snap.Position.Valid {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Local position not known yet", nil)
		return
	}
	p := snap.Position
	WriteSuccess(w, map[string]any{
		"position": map[string]float64{"x": p.X, "y": p.Y, "z": p.Z},
		"velocity": map[string]float64{"vx": p.VX, "vy": p.VY, "vz": p.VZ},
	})
}

// handleGPS handles GET /telemetry/gps
func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	if !snap.GPS.Valid {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "GPS position not known yet", nil)
		return
	}
	g := snap.GPS
	WriteSuccess(w, map[string]any{
		"position": map[string]float64{
			"lat":          g.Lat,
			"lon":          g.Lon,
			"alt":          g.Alt,
			"relative_alt": g.RelativeAlt,
		},
		"fix":        g.FixType,
		"satellites": g.Satellites,
	})
}

// handleStream handles GET /telemetry/stream (SSE)
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Event stream not available", nil)
		return
	}
	if err := s.deps.Stream.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("event stream ended", "error", err)
	}
}
