package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Project-GrADyS/uav-api/internal/link"
)

// Normalized gateway errors.
var (
	ErrCommandTimeout   = errors.New("COMMAND_TIMEOUT")
	ErrArrivalTimeout   = errors.New("ARRIVAL_TIMEOUT")
	ErrRejected         = errors.New("REJECTED")
	ErrBusy             = errors.New("BUSY")
	ErrUnsupported      = errors.New("UNSUPPORTED")
	ErrInvalidParameter = errors.New("BAD_REQUEST")
	ErrPrecondition     = errors.New("PRECONDITION")
	ErrUnavailable      = errors.New("UNAVAILABLE")
	ErrInternal         = errors.New("INTERNAL")
)

// resultErrors maps every MAV_RESULT to its normalized error; nil means
// the command was accepted.
var resultErrors = map[common.MAV_RESULT]error{
	common.MAV_RESULT_ACCEPTED:             nil,
	common.MAV_RESULT_IN_PROGRESS:          nil,
	common.MAV_RESULT_TEMPORARILY_REJECTED: ErrBusy,
	common.MAV_RESULT_DENIED:               ErrRejected,
	common.MAV_RESULT_FAILED:               ErrRejected,
	common.MAV_RESULT_UNSUPPORTED:          ErrUnsupported,
}

// RejectedError carries the autopilot's answer to a refused command.
type RejectedError struct {
	Code    error
	Command common.MAV_CMD
	Result  common.MAV_RESULT
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s answered %s", e.Code, e.Command, e.Result)
}

func (e *RejectedError) Unwrap() error {
	return e.Code
}

// resultError normalizes an ack result. Unknown results count as rejected.
func resultError(cmd common.MAV_CMD, result common.MAV_RESULT) error {
	code, known := resultErrors[result]
	if !known {
		code = ErrRejected
	}
	if code == nil {
		return nil
	}
	return &RejectedError{Code: code, Command: cmd, Result: result}
}

// Code returns the audit and API code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrCommandTimeout):
		return ErrCommandTimeout.Error()
	case errors.Is(err, ErrArrivalTimeout):
		return ErrArrivalTimeout.Error()
	case errors.Is(err, ErrBusy):
		return ErrBusy.Error()
	case errors.Is(err, ErrUnsupported):
		return ErrUnsupported.Error()
	case errors.Is(err, ErrRejected):
		return ErrRejected.Error()
	case errors.Is(err, ErrInvalidParameter):
		return ErrInvalidParameter.Error()
	case errors.Is(err, ErrPrecondition):
		return ErrPrecondition.Error()
	case errors.Is(err, ErrUnavailable):
		return ErrUnavailable.Error()
	case errors.Is(err, link.ErrTransport):
		return "TRANSPORT"
	case errors.Is(err, context.Canceled):
		return "CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	default:
		return ErrInternal.Error()
	}
}

// statusFor classifies err into an outcome status.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrCommandTimeout), errors.Is(err, ErrArrivalTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusError
	}
}
