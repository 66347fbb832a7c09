package gateway

import (
	"errors"
	"net/http"

	"github.com/wolfman30/appointment-orchestrator/internal/bookings"
	"github.com/wolfman30/appointment-orchestrator/internal/search"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
)

// Code is the error taxonomy shared with the conversational agent.
type Code string

const (
	CodeOK                 Code = "OK"
	CodeTenantNotFound     Code = "TenantNotFound"
	CodeAmbiguousDate      Code = "AmbiguousDate"
	CodeInvalidInput       Code = "InvalidInput"
	CodeSlotUnavailable    Code = "SlotUnavailable"
	CodeUnknownSlot        Code = "UnknownSlot"
	CodeBookingFailed      Code = "BookingFailed"
	CodePreconditionNotMet Code = "PreconditionNotMet"
)

// HTTPStatus maps a code onto the response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidInput, CodeAmbiguousDate:
		return http.StatusBadRequest
	case CodePreconditionNotMet:
		return http.StatusUnprocessableEntity
	case CodeTenantNotFound, CodeUnknownSlot:
		return http.StatusNotFound
	case CodeSlotUnavailable:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// ActionError is a failed action as the agent sees it.
type ActionError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *ActionError) Unwrap() error { return e.Err }

func actionError(code Code, message string, err error) *ActionError {
	return &ActionError{Code: code, Message: message, Err: err}
}

// ErrorBody is the JSON shape of every failed action.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail carries the code and the caller-facing message.
type ErrorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func errorBody(e *ActionError) ErrorBody {
	return ErrorBody{Status: "FAILED", Error: ErrorDetail{Code: e.Code, Message: e.Message}}
}

// classify maps package sentinels onto codes. Anything unrecognised is a
// persistence failure.
func classify(err error) Code {
	var ae *ActionError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &ae):
		return ae.Code
	case errors.Is(err, tenant.ErrTenantNotFound):
		return CodeTenantNotFound
	case errors.Is(err, search.ErrAmbiguousDate):
		return CodeAmbiguousDate
	case errors.Is(err, search.ErrInvalidPreference), errors.Is(err, bookings.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, bookings.ErrSlotUnavailable):
		return CodeSlotUnavailable
	case errors.Is(err, bookings.ErrUnknownSlot):
		return CodeUnknownSlot
	default:
		return CodeBookingFailed
	}
}
