// Package gateway is the action protocol spoken by the conversational agent:
// searchSlots, confirmAppointment and handoffToHuman. Each call is stateless;
// the agent supplies everything the action needs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-orchestrator/internal/bookings"
	"github.com/wolfman30/appointment-orchestrator/internal/handoff"
	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/internal/search"
	"github.com/wolfman30/appointment-orchestrator/internal/tenancy"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Action names as the agent sends them.
const (
	ActionSearchSlots        = "searchSlots"
	ActionConfirmAppointment = "confirmAppointment"
	ActionHandoffToHuman     = "handoffToHuman"
)

// DefaultDate is searched when the agent sends no date.
const DefaultDate = "tomorrow"

const (
	msgTenantNotFound  = "I couldn't find that clinic. Let me connect you with someone who can help."
	msgAmbiguousDate   = "I'm not sure which day you mean. Could you give me a date, like next Tuesday or March 3rd?"
	msgSearchFailed    = "Sorry, I couldn't search for appointments right now. Please try again."
	msgSlotUnavailable = "I'm sorry, I couldn't book that slot. It may have been taken. Would you like to search for other available times?"
	msgUnknownSlot     = "I couldn't find that appointment time. Would you like me to search again?"
	msgBookingFailed   = "Sorry, I couldn't complete the booking right now. Please try again."
	msgBadRequest      = "I didn't catch all of that. Could you repeat the details?"
)

// TenantResolver finds a tenant by id or dialed number.
type TenantResolver interface {
	Resolve(identifier string) (tenant.Tenant, error)
}

// Searcher lists open slots.
type Searcher interface {
	Search(ctx context.Context, t tenant.Tenant, dateExpr, timePref string) (search.Result, error)
}

// Confirmer books a slot.
type Confirmer interface {
	Confirm(ctx context.Context, req bookings.ConfirmRequest) (bookings.Result, error)
}

// Escalator hands a caller to staff.
type Escalator interface {
	Escalate(ctx context.Context, t tenant.Tenant, reason string) (handoff.Ack, error)
}

// SearchRequest is the searchSlots input.
type SearchRequest struct {
	TenantID       string `json:"tenant_id"`
	Date           string `json:"date"`
	TimePreference string `json:"time_preference"`
}

// SlotView is a slot as read back to the agent, times in the clinic's zone.
type SlotView struct {
	SlotID     string `json:"slot_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DoctorName string `json:"doctor_name"`
}

// SearchResponse is the searchSlots output.
type SearchResponse struct {
	Slots   []SlotView `json:"slots"`
	Count   int        `json:"count"`
	Date    string     `json:"date"`
	Message string     `json:"message"`
}

// ConfirmRequest is the confirmAppointment input.
type ConfirmRequest struct {
	TenantID     string `json:"tenant_id"`
	SlotID       string `json:"slot_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
}

// ConfirmResponse is the confirmAppointment output.
type ConfirmResponse struct {
	Status          string `json:"status"`
	ConfirmationRef string `json:"confirmation_ref"`
	Message         string `json:"message"`
}

// HandoffRequest is the handoffToHuman input.
type HandoffRequest struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
}

// Gateway validates agent calls and routes them to the owning component.
type Gateway struct {
	tenants   TenantResolver
	searcher  Searcher
	confirmer Confirmer
	escalator Escalator
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

// New wires a gateway. m may be nil.
func New(tenants TenantResolver, searcher Searcher, confirmer Confirmer, escalator Escalator, logger *logging.Logger, m *metrics.BookingMetrics) *Gateway {
	if tenants == nil || searcher == nil || confirmer == nil || escalator == nil {
		panic("gateway: tenants, searcher, confirmer and escalator are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		tenants:   tenants,
		searcher:  searcher,
		confirmer: confirmer,
		escalator: escalator,
		metrics:   m,
		logger:    logger,
	}
}

func (g *Gateway) resolveTenant(id string) (tenant.Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return tenant.Tenant{}, actionError(CodeInvalidInput, "tenant_id is required", nil)
	}
	t, err := g.tenants.Resolve(id)
	if err != nil {
		return tenant.Tenant{}, actionError(CodeTenantNotFound, msgTenantNotFound, err)
	}
	return t, nil
}

// SearchSlots resolves the date in the clinic's zone and lists open slots.
func (g *Gateway) SearchSlots(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	t, err := g.resolveTenant(req.TenantID)
	if err != nil {
		return SearchResponse{}, err
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = DefaultDate
	}

	res, err := g.searcher.Search(ctx, t, date, req.TimePreference)
	if err != nil {
		switch classify(err) {
		case CodeAmbiguousDate:
			return SearchResponse{}, actionError(CodeAmbiguousDate, msgAmbiguousDate, err)
		case CodeInvalidInput:
			return SearchResponse{}, actionError(CodeInvalidInput,
				"time_preference must be one of morning, afternoon, evening or any", err)
		default:
			return SearchResponse{}, actionError(CodeBookingFailed, msgSearchFailed, err)
		}
	}

	loc := t.Location()
	views := make([]SlotView, 0, len(res.Slots))
	for _, s := range res.Slots {
		views = append(views, SlotView{
			SlotID:     s.ID,
			StartTime:  s.StartTime.In(loc).Format(time.RFC3339),
			EndTime:    s.EndTime.In(loc).Format(time.RFC3339),
			DoctorName: s.DoctorName,
		})
	}
	return SearchResponse{
		Slots:   views,
		Count:   len(views),
		Date:    res.Date.Format("2006-01-02"),
		Message: res.Message,
	}, nil
}

// ConfirmAppointment books a slot the caller picked. Every identity field must
// be supplied; nothing is inferred.
func (g *Gateway) ConfirmAppointment(ctx context.Context, req ConfirmRequest) (ConfirmResponse, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return ConfirmResponse{}, actionError(CodeInvalidInput, "tenant_id is required", nil)
	}
	if missing := missingConfirmFields(req); len(missing) > 0 {
		return ConfirmResponse{}, actionError(CodePreconditionNotMet,
			"I still need the following information: "+strings.ReplaceAll(strings.Join(missing, ", "), "_", " "),
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}
	t, err := g.resolveTenant(req.TenantID)
	if err != nil {
		return ConfirmResponse{}, err
	}

	res, err := g.confirmer.Confirm(ctx, bookings.ConfirmRequest{
		Tenant:       t,
		SlotID:       req.SlotID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
	})
	if err != nil {
		switch code := classify(err); code {
		case CodeInvalidInput:
			return ConfirmResponse{}, actionError(code, invalidInputMessage(err), err)
		case CodeSlotUnavailable:
			return ConfirmResponse{}, actionError(code, msgSlotUnavailable, err)
		case CodeUnknownSlot:
			return ConfirmResponse{}, actionError(code, msgUnknownSlot, err)
		default:
			return ConfirmResponse{}, actionError(CodeBookingFailed, msgBookingFailed, err)
		}
	}

	return ConfirmResponse{
		Status:          string(res.Status),
		ConfirmationRef: res.ConfirmationRef,
		Message: fmt.Sprintf("Appointment confirmed! Confirmation number is %s. A confirmation email will be sent to %s.",
			res.ConfirmationRef, res.Booking.PatientEmail),
	}, nil
}

// HandoffToHuman escalates the caller. Only an unknown tenant fails.
func (g *Gateway) HandoffToHuman(ctx context.Context, req HandoffRequest) (handoff.Ack, error) {
	t, err := g.resolveTenant(req.TenantID)
	if err != nil {
		return handoff.Ack{}, err
	}
	ack, err := g.escalator.Escalate(ctx, t, req.Reason)
	if err != nil {
		return handoff.Ack{}, actionError(CodeBookingFailed, "I'm having trouble connecting you. Please hold while I try again.", err)
	}
	return ack, nil
}

// Invoke decodes payload for action, runs it and returns the HTTP status and
// JSON body. The HTTP handlers and the Lambda adapter both go through here.
func (g *Gateway) Invoke(ctx context.Context, action string, payload []byte) (int, any) {
	start := time.Now()
	var (
		body any
		err  error
	)

	switch action {
	case ActionSearchSlots:
		var req SearchRequest
		if err = decodeStrict(payload, &req); err == nil {
			req.TenantID = tenantFallback(ctx, req.TenantID)
			body, err = g.SearchSlots(ctx, req)
		}
	case ActionConfirmAppointment:
		var req ConfirmRequest
		if err = decodeStrict(payload, &req); err == nil {
			req.TenantID = tenantFallback(ctx, req.TenantID)
			body, err = g.ConfirmAppointment(ctx, req)
		}
	case ActionHandoffToHuman:
		var req HandoffRequest
		if err = decodeStrict(payload, &req); err == nil {
			req.TenantID = tenantFallback(ctx, req.TenantID)
			body, err = g.HandoffToHuman(ctx, req)
		}
	default:
		err = actionError(CodeInvalidInput, fmt.Sprintf("unknown action %q", action), nil)
	}

	code := classify(err)
	g.metrics.ObserveAction(action, string(code), time.Since(start).Seconds())

	if err != nil {
		var ae *ActionError
		if !errors.As(err, &ae) {
			ae = actionError(code, msgBookingFailed, err)
		}
		logArgs := []any{"action", action, "code", string(ae.Code), "error", err}
		if ae.Code == CodeBookingFailed {
			g.logger.Error("gateway: action failed", logArgs...)
		} else {
			g.logger.Info("gateway: action rejected", logArgs...)
		}
		return ae.Code.HTTPStatus(), errorBody(ae)
	}

	g.logger.Info("gateway: action completed", "action", action, "duration_ms", time.Since(start).Milliseconds())
	return CodeOK.HTTPStatus(), body
}

// decodeStrict rejects unknown fields so a misspelled parameter is never
// silently dropped.
func decodeStrict(payload []byte, v any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return actionError(CodeInvalidInput, msgBadRequest, fmt.Errorf("decode request: %w", err))
	}
	return nil
}

// tenantFallback uses the tenant carried on the request context when the
// payload names none.
func tenantFallback(ctx context.Context, tenantID string) string {
	if strings.TrimSpace(tenantID) != "" {
		return tenantID
	}
	if id, ok := tenancy.TenantIDFromContext(ctx); ok {
		return id
	}
	return tenantID
}

func missingConfirmFields(req ConfirmRequest) []string {
	var missing []string
	if strings.TrimSpace(req.SlotID) == "" {
		missing = append(missing, "slot_id")
	}
	if strings.TrimSpace(req.PatientName) == "" {
		missing = append(missing, "patient_name")
	}
	if strings.TrimSpace(req.PatientEmail) == "" {
		missing = append(missing, "patient_email")
	}
	return missing
}

func invalidInputMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, bookings.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(bookings.ErrInvalidInput.Error())+2:]
	}
	return msgBadRequest
}
