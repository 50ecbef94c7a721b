package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// RunEventsResponse answers GET /api/v1/runs/{runId}/events.
type RunEventsResponse struct {
	RunID      string             `json:"runId"`
	Count      int                `json:"count"`
	FinalState lineage.EventType  `json:"finalState,omitempty"`
	Events     []lineage.RunEvent `json:"events"`
}

// handleRunEvents replays the stored events of one run in eventTime order.
// finalState is omitted when the stored history is not a valid run cycle.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("runId"))
	if runID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("runId is required"))

		return
	}

	events, err := s.journal.EventsForRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("Failed to query run events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Failed to query run events"))

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, NotFound("No events stored for run "+runID))

		return
	}

	response := RunEventsResponse{
		RunID:  runID,
		Count:  len(events),
		Events: events,
	}

	if _, state, err := lineage.ValidateEventSequence(events); err == nil {
		response.FinalState = state
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
