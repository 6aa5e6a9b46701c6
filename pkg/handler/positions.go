package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/guardline/guardline/pkg/geo"
	"github.com/guardline/guardline/pkg/monitor"
	"github.com/guardline/guardline/pkg/tracker"
)

// PositionHandler handles position ingest and query requests
type PositionHandler struct {
	svc     *monitor.Service
	archive Archive
	logger  zerolog.Logger
}

// NewPositionHandler creates a new PositionHandler. A nil archive means the
// current position exists only once a sample has been ingested.
func NewPositionHandler(svc *monitor.Service, archive Archive, logger zerolog.Logger) *PositionHandler {
	return &PositionHandler{
		svc:     svc,
		archive: archive,
		logger:  logger.With().Str("handler", "positions").Logger(),
	}
}

// Routes returns the position routes
func (h *PositionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Ingest)
	r.Get("/current", h.GetCurrent)
	r.Get("/history", h.GetHistory)
	r.Get("/zones", h.GetCurrentZones)

	return r
}

// IngestRequest represents a position sample submission
type IngestRequest struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	ObservedAt time.Time `json:"observed_at"`
}

// Ingest handles POST /api/v1/positions
func (h *PositionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	var req IngestRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body", correlationID)
		return
	}

	pos := geo.Position{
		Lat:        req.Lat,
		Lng:        req.Lng,
		AccuracyM:  req.AccuracyM,
		ObservedAt: req.ObservedAt,
	}

	if err := h.svc.IngestPosition(pos); err != nil {
		if errors.Is(err, tracker.ErrStaleSample) {
			WriteError(w, http.StatusUnprocessableEntity, "Sample rejected: stale or invalid", correlationID)
			return
		}
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Position ingest failed")
		WriteError(w, http.StatusInternalServerError, "Position ingest failed", correlationID)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"correlation_id": correlationID,
	})
}

// GetCurrent handles GET /api/v1/positions/current. Before the first sample
// of this run it falls back to the archived last snapshot, so the endpoint
// survives a restart.
func (h *PositionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	pos, ok := h.svc.Tracker().Current()
	if !ok && h.archive != nil {
		archived, err := h.archive.LastPosition(r.Context())
		if err == nil {
			pos, ok = archived, true
		}
	}
	if !ok {
		WriteError(w, http.StatusNotFound, "No position recorded yet", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"position":       pos,
		"correlation_id": correlationID,
	})
}

// GetHistory handles GET /api/v1/positions/history
func (h *PositionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"positions":      h.svc.Tracker().History(),
		"correlation_id": correlationID,
	})
}

// GetCurrentZones handles GET /api/v1/positions/zones
func (h *PositionHandler) GetCurrentZones(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"zones":          h.svc.Tracker().CurrentZones(),
		"correlation_id": correlationID,
	})
}
