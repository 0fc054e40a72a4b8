package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Project-GrADyS/uav-api/internal/auth"
	"github.com/Project-GrADyS/uav-api/internal/command"
)

// maxBodyBytes bounds movement request bodies.
const maxBodyBytes = 1 << 16

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	// Health endpoint (no auth required)
	r.Get("/health", s.handleHealth)

	// Telemetry (read scope)
	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.RequireScope(auth.ScopeRead))
		r.Get("/telemetry/general", s.handleGeneral)
		r.Get("/telemetry/ned", s.handleNED)
		r.Get("/telemetry/gps", s.handleGPS)
		r.Get("/telemetry/stream", s.handleStream)
	})

	// Commands and movement (control scope)
	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.RequireScope(auth.ScopeControl))

		r.Get("/command/arm", s.command(s.deps.Gateway.Arm))
		r.Get("/command/disarm", s.command(s.deps.Gateway.Disarm))
		r.Get("/command/land", s.command(s.deps.Gateway.Land))
		r.Get("/command/takeoff", s.handleTakeoff)
		r.Get("/command/rtl", s.handleRTL)
		r.Get("/command/mode", s.handleMode)

		r.Post("/movement/go_to_ned", s.handleGotoNED(false))
		r.Post("/movement/go_to_ned_wait", s.handleGotoNED(true))
		r.Post("/movement/go_to_gps", s.handleGotoGPS(false))
		r.Post("/movement/go_to_gps_wait", s.handleGotoGPS(true))
		r.Post("/movement/drive", s.handleDrive(false))
		r.Post("/movement/drive_wait", s.handleDrive(true))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path), nil)
	})
	return r
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Health != nil {
		data["vehicle"] = s.deps.Health()
	}
	WriteSuccess(w, data)
}

// command adapts a parameterless gateway operation.
func (s *Server) command(op func(context.Context) command.Outcome) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOutcome(w, op(r.Context()))
	}
}

// handleTakeoff handles GET /command/takeoff?alt=
func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	alt, err := strconv.ParseFloat(r.URL.Query().Get("alt"), 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Query parameter alt must be a number", nil)
		return
	}
	writeOutcome(w, s.deps.Gateway.Takeoff(r.Context(), alt, nil))
}

// handleRTL handles GET /command/rtl[?wait=true]
func (s *Server) handleRTL(w http.ResponseWriter, r *http.Request) {
	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Query parameter wait must be a boolean", nil)
			return
		}
		wait = b
	}
	writeOutcome(w, s.deps.Gateway.RTL(r.Context(), wait))
}

// handleMode handles GET /command/mode?name=
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Query parameter name is required", nil)
		return
	}
	writeOutcome(w, s.deps.Gateway.SetMode(r.Context(), name))
}

type nedRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (req nedRequest) values() (x, y, z float64, err error) {
	if req.X == nil || req.Y == nil || req.Z == nil {
		return 0, 0, 0, errors.New("x, y and z are required")
	}
	return *req.X, *req.Y, *req.Z, nil
}

type gpsRequest struct {
	Lat  *float64 `json:"lat"`
	Long *float64 `json:"long"`
	Lon  *float64 `json:"lon"`
	Alt  *float64 `json:"alt"`
}

func (req gpsRequest) values() (lat, lon, alt float64, err error) {
	lonPtr := req.Long
	if lonPtr == nil {
		lonPtr = req.Lon
	}
	if req.Lat == nil || lonPtr == nil || req.Alt == nil {
		return 0, 0, 0, errors.New("lat, long and alt are required")
	}
	return *req.Lat, *lonPtr, *req.Alt, nil
}

// handleGotoNED handles POST /movement/go_to_ned[_wait]
func (s *Server) handleGotoNED(wait bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req nedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		x, y, z, err := req.values()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		writeOutcome(w, s.deps.Gateway.GotoNED(r.Context(), x, y, z, s.arrival(wait)))
	}
}

// handleDrive handles POST /movement/drive[_wait]
func (s *Server) handleDrive(wait bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req nedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		x, y, z, err := req.values()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		writeOutcome(w, s.deps.Gateway.Drive(r.Context(), x, y, z, s.arrival(wait)))
	}
}

// handleGotoGPS handles POST /movement/go_to_gps[_wait]
func (s *Server) handleGotoGPS(wait bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gpsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		lat, lon, alt, err := req.values()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		writeOutcome(w, s.deps.Gateway.GotoGPS(r.Context(), lat, lon, alt, s.arrival(wait)))
	}
}

func (s *Server) arrival(wait bool) *command.ArrivalPolicy {
	if !wait {
		return nil
	}
	return s.deps.Gateway.DefaultArrival()
}

// decodeJSON strictly decodes one JSON object, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}
