package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/messages"
	"github.com/guardline/guardline/pkg/monitor"
)

// StatusHandler handles assessment, zone catalog, connectivity, and
// identity requests.
type StatusHandler struct {
	svc     *monitor.Service
	archive Archive
	logger  zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler. A nil archive serves the
// message log from the gateway's in-memory history only.
func NewStatusHandler(svc *monitor.Service, archive Archive, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		svc:     svc,
		archive: archive,
		logger:  logger.With().Str("handler", "status").Logger(),
	}
}

// Routes returns the status routes
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/assessment", h.GetAssessment)
	r.Get("/zones", h.GetZones)
	r.Get("/connectivity", h.GetConnectivity)
	r.Get("/messages", h.GetMessages)
	r.Post("/identity", h.PutIdentity)

	return r
}

// GetAssessment handles GET /api/v1/status/assessment
func (h *StatusHandler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"assessment":     h.svc.Assessment(),
		"correlation_id": correlationID,
	})
}

// GetZones handles GET /api/v1/status/zones
func (h *StatusHandler) GetZones(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"zones":          h.svc.Zones().All(),
		"correlation_id": correlationID,
	})
}

// GetConnectivity handles GET /api/v1/status/connectivity
func (h *StatusHandler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connectivity":   h.svc.Gateway().State(),
		"queue_depth":    h.svc.Gateway().QueueDepth(),
		"correlation_id": correlationID,
	})
}

// GetMessages handles GET /api/v1/status/messages. With an archive attached
// it serves the durable message record, bounded by the optional limit query
// parameter; otherwise it serves the gateway's in-memory log.
func (h *StatusHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	if h.archive != nil {
		limit := 0
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			limit = n
		}

		msgs, err := h.archive.ListMessages(r.Context(), limit)
		if err == nil {
			WriteJSON(w, http.StatusOK, map[string]interface{}{
				"messages":       msgs,
				"correlation_id": correlationID,
			})
			return
		}
		h.logger.Warn().Err(err).Str("correlation_id", correlationID).
			Msg("Archive query failed, serving in-memory message log")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages":       h.svc.Gateway().Log(),
		"correlation_id": correlationID,
	})
}

// PutIdentity handles POST /api/v1/status/identity, recording the latest
// verification result from the external identity service.
func (h *StatusHandler) PutIdentity(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	var v messages.IdentityVerification
	if err := DecodeJSON(r, &v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
		return
	}

	h.svc.SetIdentity(v)
	h.logger.Info().
		Bool("valid", v.Valid).
		Str("correlation_id", correlationID).
		Msg("Identity verification recorded")

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":         "recorded",
		"correlation_id": correlationID,
	})
}
