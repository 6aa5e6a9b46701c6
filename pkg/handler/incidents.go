package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/dispatch"
	"github.com/guardline/guardline/pkg/monitor"
	"github.com/guardline/guardline/pkg/postgres"
)

// IncidentHandler handles emergency lifecycle HTTP requests
type IncidentHandler struct {
	svc     *monitor.Service
	archive Archive
	logger  zerolog.Logger
}

// NewIncidentHandler creates a new IncidentHandler. A nil archive serves
// history from the in-memory dispatcher only.
func NewIncidentHandler(svc *monitor.Service, archive Archive, logger zerolog.Logger) *IncidentHandler {
	return &IncidentHandler{
		svc:     svc,
		archive: archive,
		logger:  logger.With().Str("handler", "incidents").Logger(),
	}
}

// Routes returns the incident routes
func (h *IncidentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetStatus)
	r.Get("/history", h.GetHistory)
	r.Post("/activate", h.Activate)
	r.Post("/cancel", h.Cancel)
	r.Post("/dispatch", h.Dispatch)
	r.Post("/responding", h.MarkResponding)
	r.Post("/resolve", h.Resolve)

	return r
}

// ActivateRequest represents an emergency activation request
type ActivateRequest struct {
	Kind string `json:"kind"`
}

// IncidentStatusResponse reports the dispatcher state plus the active
// incident when one exists.
type IncidentStatusResponse struct {
	State          dispatch.State     `json:"state"`
	RemainingTicks int                `json:"remaining_ticks"`
	Incident       *dispatch.Incident `json:"incident,omitempty"`
	CorrelationID  string             `json:"correlation_id"`
}

// GetStatus handles GET /api/v1/emergency
func (h *IncidentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	resp := IncidentStatusResponse{
		State:          h.svc.Dispatcher().State(),
		RemainingTicks: h.svc.Dispatcher().Remaining(),
		CorrelationID:  correlationID,
	}
	if incident, ok := h.svc.Dispatcher().Active(); ok {
		resp.Incident = &incident
	}

	WriteJSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/emergency/history. With an archive attached
// it serves the durable record, filtered by the optional state, kind, and
// limit query parameters; otherwise (or when the query fails) it serves the
// dispatcher's in-memory history.
func (h *IncidentHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	if h.archive != nil {
		filter := postgres.IncidentFilter{
			State: r.URL.Query().Get("state"),
			Kind:  r.URL.Query().Get("kind"),
		}
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			filter.Limit = n
		}

		incidents, err := h.archive.ListIncidents(r.Context(), filter)
		if err == nil {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"incidents":      incidents,
				"correlation_id": correlationID,
			})
			return
		}
		h.logger.Warn().Err(err).Str("correlation_id", correlationID).
			Msg("Archive query failed, serving in-memory history")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"incidents":      h.svc.Dispatcher().History(),
		"correlation_id": correlationID,
	})
}

// Activate handles POST /api/v1/emergency/activate
func (h *IncidentHandler) Activate(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	var req ActivateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
		return
	}

	kind := dispatch.Kind(req.Kind)
	if !kind.Valid() {
		WriteError(w, http.StatusBadRequest, "Unknown emergency kind", correlationID)
		return
	}

	incident, err := h.svc.Activate(kind)
	if err != nil {
		h.writeDispatchError(w, err, correlationID)
		return
	}

	h.logger.Info().
		Str("incident_id", incident.ID).
		Str("kind", string(kind)).
		Str("correlation_id", correlationID).
		Msg("Emergency countdown started")

	WriteJSON(w, http.StatusAccepted, IncidentStatusResponse{
		State:          h.svc.Dispatcher().State(),
		RemainingTicks: h.svc.Dispatcher().Remaining(),
		Incident:       &incident,
		CorrelationID:  correlationID,
	})
}

// Cancel handles POST /api/v1/emergency/cancel
func (h *IncidentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	if err := h.svc.Cancel(); err != nil {
		h.writeDispatchError(w, err, correlationID)
		return
	}

	h.logger.Info().Str("correlation_id", correlationID).Msg("Emergency cancelled")
	WriteJSON(w, http.StatusOK, map[string]string{
		"state":          string(h.svc.Dispatcher().State()),
		"correlation_id": correlationID,
	})
}

// Dispatch handles POST /api/v1/emergency/dispatch, skipping the rest of
// the countdown.
func (h *IncidentHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	incident, err := h.svc.DispatchNow()
	if err != nil {
		h.writeDispatchError(w, err, correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, IncidentStatusResponse{
		State:         h.svc.Dispatcher().State(),
		Incident:      &incident,
		CorrelationID: correlationID,
	})
}

// MarkResponding handles POST /api/v1/emergency/responding
func (h *IncidentHandler) MarkResponding(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	if err := h.svc.Dispatcher().MarkResponding(); err != nil {
		h.writeDispatchError(w, err, correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"state":          string(h.svc.Dispatcher().State()),
		"correlation_id": correlationID,
	})
}

// Resolve handles POST /api/v1/emergency/resolve
func (h *IncidentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	if err := h.svc.Dispatcher().Resolve(); err != nil {
		h.writeDispatchError(w, err, correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"state":          string(h.svc.Dispatcher().State()),
		"correlation_id": correlationID,
	})
}

func (h *IncidentHandler) writeDispatchError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, dispatch.ErrAlreadyActive):
		WriteError(w, http.StatusConflict, "An emergency is already active", correlationID)
	case errors.Is(err, dispatch.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "Invalid incident state transition", correlationID)
	default:
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Emergency operation failed")
		WriteError(w, http.StatusInternalServerError, "Emergency operation failed", correlationID)
	}
}
