package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/storage"
)

const testRunID = "0176a8c2-fe01-7439-87e6-56a1a1b4029f"

var errJournalDown = errors.New("journal down")

// eventJSON renders a minimal valid event of the housing prepare_data job.
func eventJSON(runID string, eventType lineage.EventType, eventTime string) string {
	return fmt.Sprintf(`{
		"eventType": %q,
		"eventTime": %q,
		"producer": "https://github.com/correlator-io/openlineage-playground",
		"schemaURL": "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent",
		"run": {"runId": %q},
		"job": {"namespace": "housing", "name": "housing_regression_flow.prepare_data"},
		"inputs": [{"namespace": "s3://housing-bucket", "name": "raw/housing.csv"}],
		"outputs": [{"namespace": "s3://housing-bucket", "name": "prepared/train.csv"}]
	}`, eventType, eventTime, runID)
}

func batchJSON(events ...string) string {
	return "[" + strings.Join(events, ",") + "]"
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            defaultPort,
		Host:            "127.0.0.1",
		ReadTimeout:     defaultTimeout,
		WriteTimeout:    defaultTimeout,
		ShutdownTimeout: defaultTimeout,
		LogLevel:        defaultLogLevel,
		MaxRequestSize:  defaultMaxRequestSize,
		MaxBatchSize:    defaultMaxBatchSize,
		Version:         "test",
	}
}

func newTestServer(cfg *ServerConfig, journal storage.Journal, verifier middleware.KeyVerifier) *Server {
	if cfg == nil {
		cfg = testServerConfig()
	}

	return NewServer(cfg, journal, verifier, nil, WithLogger(config.DiscardLogger()))
}

func doRequest(
	t *testing.T,
	handler http.Handler,
	method, path string,
	body io.Reader,
	headers map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	return doRequest(t, handler, http.MethodPost, path, bytes.NewBufferString(body),
		map[string]string{"Content-Type": "application/json"})
}

// failingJournal fails every operation.
type failingJournal struct{}

func (failingJournal) StoreEvent(context.Context, *lineage.RunEvent) (bool, bool, error) {
	return false, false, fmt.Errorf("%w: %w", storage.ErrJournalStoreFailed, errJournalDown)
}

func (failingJournal) StoreEvents(context.Context, []*lineage.RunEvent) ([]*storage.EventStoreResult, error) {
	return nil, fmt.Errorf("%w: %w", storage.ErrJournalStoreFailed, errJournalDown)
}

func (failingJournal) EventsForRun(context.Context, string) ([]lineage.RunEvent, error) {
	return nil, fmt.Errorf("%w: %w", storage.ErrJournalQueryFailed, errJournalDown)
}

func (failingJournal) HealthCheck(context.Context) error { return errJournalDown }

func (failingJournal) Close() error { return nil }
