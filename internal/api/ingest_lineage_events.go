package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/storage"
)

// Response statuses.
const (
	statusStored         = "stored"
	statusDuplicate      = "duplicate"
	statusSuccess        = "success"
	statusPartialSuccess = "partial_success"
	statusError          = "error"
)

type (
	// EventResponse answers POST /api/v1/lineage.
	EventResponse struct {
		Status        string `json:"status"` // "stored" or "duplicate"
		RunID         string `json:"runId"`
		CorrelationID string `json:"correlation_id"` //nolint: tagliatelle
		Timestamp     string `json:"timestamp"`
	}

	// LineageResponse answers POST /api/v1/lineage/batch. Only failed events
	// are listed; their index refers to the request array.
	LineageResponse struct {
		Status        string          `json:"status"`
		Summary       ResponseSummary `json:"summary"`
		FailedEvents  []FailedEvent   `json:"failed_events"`  //nolint: tagliatelle
		CorrelationID string          `json:"correlation_id"` //nolint: tagliatelle
		Timestamp     string          `json:"timestamp"`
	}

	// ResponseSummary provides aggregate counts for batch processing.
	ResponseSummary struct {
		Received     int `json:"received"`
		Successful   int `json:"successful"` // stored + duplicates
		Failed       int `json:"failed"`
		Retriable    int `json:"retriable"`
		NonRetriable int `json:"non_retriable"` //nolint: tagliatelle
	}

	// FailedEvent describes a single failed event in the batch.
	FailedEvent struct {
		Index     int    `json:"index"`
		Reason    string `json:"reason"`
		Retriable bool   `json:"retriable"`
	}

	// batchItem tracks one element of a batch through decode, validation and
	// storage.
	batchItem struct {
		event     *lineage.RunEvent
		reason    string
		retriable bool
	}
)

// handleLineageEvent ingests one event, the way HTTP transports send them.
//
//   - 201 Created: stored
//   - 200 OK: duplicate of an already stored event
//   - 400 Bad Request: empty body, invalid JSON or gzip
//   - 413 Payload Too Large, 415 Unsupported Media Type
//   - 422 Unprocessable Entity: event fails validation
//   - 503 Service Unavailable: the journal could not store it
func (s *Server) handleLineageEvent(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	data, problem := s.readEventBody(w, r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.metrics.received.WithLabelValues("single").Inc()

	event, err := lineage.Unmarshal(data)
	if err != nil {
		s.metrics.reject(reasonDecode, 1)
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid event: "+err.Error()))

		return
	}

	if err := s.validator.ValidateRunEvent(event); err != nil {
		s.metrics.reject(reasonValidation, 1)
		s.logger.Warn("Event validation failed",
			slog.String("correlation_id", correlationID),
			slog.String("run_id", event.Run.ID),
			slog.String("reason", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	stored, duplicate, err := s.journal.StoreEvent(r.Context(), event)
	if err != nil {
		s.metrics.reject(reasonStorage, 1)
		s.logger.Error("Failed to store event",
			slog.String("correlation_id", correlationID),
			slog.String("run_id", event.Run.ID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Failed to store event"))

		return
	}

	s.metrics.recordStored(stored, duplicate)

	status, code := statusStored, http.StatusCreated
	if duplicate {
		status, code = statusDuplicate, http.StatusOK
	}

	s.writeJSON(w, r, code, EventResponse{
		Status:        status,
		RunID:         event.Run.ID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})

	s.logger.Info("Lineage event processed",
		slog.String("correlation_id", correlationID),
		slog.String("run_id", event.Run.ID),
		slog.String("event_type", string(event.EventType)),
		slog.String("job", event.Job.Namespace+"/"+event.Job.Name),
		slog.String("status", status),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// handleLineageBatch ingests a JSON array of events. Each element is decoded,
// validated and stored independently; one bad event does not sink the rest.
// A batch that holds a single run must also form a valid run-cycle sequence.
//
//   - 200 OK: all events stored or duplicates
//   - 207 Multi-Status: some events failed
//   - 422 Unprocessable Entity: all events failed, or invalid run sequence
func (s *Server) handleLineageBatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	data, problem := s.readEventBody(w, r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: expected an array of events: "+err.Error()))

		return
	}

	if len(raw) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event array cannot be empty"))

		return
	}

	if len(raw) > s.config.MaxBatchSize {
		WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
			fmt.Sprintf("Batch of %d events exceeds maximum of %d", len(raw), s.config.MaxBatchSize),
		))

		return
	}

	s.metrics.received.WithLabelValues("batch").Add(float64(len(raw)))

	items := s.decodeAndValidate(raw)

	if err := checkRunSequence(items); err != nil {
		s.metrics.reject(reasonSequence, len(items))
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Invalid event sequence: "+err.Error()))

		return
	}

	if problem := s.storeValid(r, items); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	response := s.buildLineageResponse(correlationID, items)
	statusCode := determineStatusCode(response)

	s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Lineage events processed",
		slog.String("correlation_id", correlationID),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("successful", response.Summary.Successful),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("retriable", response.Summary.Retriable),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// readEventBody checks the content type, undoes Content-Encoding: gzip and
// bounds the decoded size by MaxRequestSize.
func (s *Server) readEventBody(w http.ResponseWriter, r *http.Request) ([]byte, *ProblemDetail) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return nil, UnsupportedMediaType("Content-Type must be application/json")
	}

	limit := s.config.MaxRequestSize

	if r.ContentLength > limit {
		return nil, PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", limit))
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, limit)

	if isGzip(r.Header.Get("Content-Encoding")) {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, BadRequest("Invalid gzip body: " + err.Error())
		}

		defer func() { _ = zr.Close() }()

		body = zr
	}

	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", limit))
		}

		return nil, BadRequest("Failed to read request body: " + err.Error())
	}

	if int64(len(data)) > limit {
		return nil, PayloadTooLarge(fmt.Sprintf("Decoded request body exceeds maximum size of %d bytes", limit))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	return data, nil
}

func isGzip(contentEncoding string) bool {
	for enc := range strings.SplitSeq(contentEncoding, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}

	return false
}

func (s *Server) decodeAndValidate(raw []json.RawMessage) []*batchItem {
	items := make([]*batchItem, len(raw))

	for i, msg := range raw {
		event, err := lineage.Unmarshal(msg)
		if err != nil {
			s.metrics.reject(reasonDecode, 1)
			items[i] = &batchItem{reason: err.Error()}

			continue
		}

		if err := s.validator.ValidateRunEvent(event); err != nil {
			s.metrics.reject(reasonValidation, 1)
			items[i] = &batchItem{reason: err.Error()}

			continue
		}

		items[i] = &batchItem{event: event}
	}

	return items
}

// checkRunSequence validates the run cycle when every valid event of the
// batch belongs to one run. Multi-run batches are not checked: each run's
// history may be spread over several requests.
func checkRunSequence(items []*batchItem) error {
	var events []lineage.RunEvent

	for _, item := range items {
		if item.event == nil {
			continue
		}

		if len(events) > 0 && events[0].Run.ID != item.event.Run.ID {
			return nil
		}

		events = append(events, *item.event)
	}

	if len(events) < 2 { //nolint: mnd
		return nil
	}

	_, _, err := lineage.ValidateEventSequence(events)

	return err
}

// storeValid writes the events that passed validation. Per-event storage
// errors are recorded on the item and are retriable; an error stopping the
// whole batch becomes a 503 problem.
func (s *Server) storeValid(r *http.Request, items []*batchItem) *ProblemDetail {
	valid := make([]*lineage.RunEvent, 0, len(items))
	indexes := make([]int, 0, len(items))

	for i, item := range items {
		if item.event != nil {
			valid = append(valid, item.event)
			indexes = append(indexes, i)
		}
	}

	if len(valid) == 0 {
		return nil
	}

	results, err := s.journal.StoreEvents(r.Context(), valid)
	if err != nil {
		s.metrics.reject(reasonStorage, len(valid))
		s.logger.Error("Failed to store events",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		return ServiceUnavailable("Failed to store events")
	}

	for i, result := range results {
		item := items[indexes[i]]

		switch {
		case result == nil:
			item.reason = "storage result missing"
			item.retriable = true
		case result.Error != nil:
			item.reason = result.Error.Error()
			item.retriable = errors.Is(result.Error, storage.ErrJournalStoreFailed)
		default:
			s.metrics.recordStored(result.Stored, result.Duplicate)

			continue
		}

		s.metrics.reject(reasonStorage, 1)
		item.event = nil
	}

	return nil
}

func (s *Server) buildLineageResponse(correlationID string, items []*batchItem) *LineageResponse {
	response := &LineageResponse{
		Status:        statusSuccess,
		Summary:       ResponseSummary{Received: len(items)},
		FailedEvents:  make([]FailedEvent, 0),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	for i, item := range items {
		if item.event != nil {
			response.Summary.Successful++

			continue
		}

		response.Summary.Failed++
		if item.retriable {
			response.Summary.Retriable++
		} else {
			response.Summary.NonRetriable++
		}

		response.FailedEvents = append(response.FailedEvents, FailedEvent{
			Index:     i,
			Reason:    item.reason,
			Retriable: item.retriable,
		})

		s.logger.Warn("Event rejected",
			slog.String("correlation_id", correlationID),
			slog.Int("event_index", i),
			slog.String("reason", item.reason),
		)
	}

	return response
}

// determineStatusCode maps the summary to 200, 207 or 422 and sets the
// matching response status.
func determineStatusCode(response *LineageResponse) int {
	switch {
	case response.Summary.Failed == 0:
		response.Status = statusSuccess

		return http.StatusOK
	case response.Summary.Successful > 0:
		response.Status = statusPartialSuccess

		return http.StatusMultiStatus
	default:
		response.Status = statusError

		return http.StatusUnprocessableEntity
	}
}
