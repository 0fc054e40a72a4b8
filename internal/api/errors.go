package api

import (
	"net/http"

	"github.com/Project-GrADyS/uav-api/internal/command"
)

// outcomeStatus maps gateway codes to HTTP status codes. Unknown codes are
// internal errors.
var outcomeStatus = map[string]int{
	"SUCCESS":           http.StatusOK,
	"BAD_REQUEST":       http.StatusBadRequest,
	"PRECONDITION":      http.StatusConflict,
	"REJECTED":          http.StatusConflict,
	"UNSUPPORTED":       http.StatusUnprocessableEntity,
	"BUSY":              http.StatusServiceUnavailable,
	"UNAVAILABLE":       http.StatusServiceUnavailable,
	"TRANSPORT":         http.StatusServiceUnavailable,
	"COMMAND_TIMEOUT":   http.StatusGatewayTimeout,
	"ARRIVAL_TIMEOUT":   http.StatusGatewayTimeout,
	"DEADLINE_EXCEEDED": http.StatusGatewayTimeout,
	"CANCELLED":         499,
	"INTERNAL":          http.StatusInternalServerError,
}

func httpStatus(out command.Outcome) int {
	if status, ok := outcomeStatus[out.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// outcomeData is the boundary shape of a command outcome.
func outcomeData(out command.Outcome) map[string]any {
	data := map[string]any{
		"command":   out.Command,
		"status":    string(out.Status),
		"detail":    out.Detail,
		"latencyMs": out.LatencyMs(),
	}
	if out.Position != nil {
		data["position"] = out.Position
	}
	return data
}

// writeOutcome writes a gateway outcome as an envelope.
func writeOutcome(w http.ResponseWriter, out command.Outcome) {
	if out.OK() {
		WriteSuccess(w, outcomeData(out))
		return
	}
	WriteError(w, httpStatus(out), out.Code, out.Detail, outcomeData(out))
}
