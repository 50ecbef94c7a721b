package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, chan capturedRequest) {
	t.Helper()

	requests := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		requests <- capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	t.Cleanup(server.Close)

	return server, requests
}

func TestHTTPTransport_PostsEventToEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server, requests := captureServer(t, http.StatusCreated)

	tr, err := NewHTTP(HTTPConfig{
		URL:     server.URL,
		Auth:    APIKeyTokenProvider{APIKey: "secret-key"}, // pragma: allowlist secret
		Headers: map[string]string{"X-Team": "ml"},
	})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/api/v1/lineage", tr.Target())

	event := testEvent(t, "run-1", "")
	require.NoError(t, tr.Emit(context.Background(), event))

	req := <-requests
	assert.Equal(t, "/api/v1/lineage", req.path)
	assert.Equal(t, "application/json", req.headers.Get("Content-Type"))
	assert.Equal(t, "Bearer secret-key", req.headers.Get("Authorization"))
	assert.Equal(t, "ml", req.headers.Get("X-Team"))
	assert.Empty(t, req.headers.Get("Content-Encoding"))

	decoded, err := lineage.Unmarshal(req.body)
	require.NoError(t, err)
	assert.Equal(t, "run-1", decoded.Run.ID)
}

func TestHTTPTransport_GzipAndCustomEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server, requests := captureServer(t, http.StatusOK)

	tr, err := NewHTTP(HTTPConfig{
		URL:         server.URL + "/base/",
		Endpoint:    "/events",
		Compression: CompressionGzip,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Emit(context.Background(), testEvent(t, "run-1", "")))

	req := <-requests
	assert.Equal(t, "/base/events", req.path)
	assert.Equal(t, "gzip", req.headers.Get("Content-Encoding"))
	assert.Empty(t, req.headers.Get("Authorization"))

	zr, err := gzip.NewReader(bytes.NewReader(req.body))
	require.NoError(t, err)

	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	decoded, err := lineage.Unmarshal(plain)
	require.NoError(t, err)
	assert.Equal(t, lineage.EventTypeStart, decoded.EventType)
}

func TestHTTPTransport_StatusErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		status    int
		retriable bool
	}{
		{status: http.StatusBadRequest, retriable: false},
		{status: http.StatusUnauthorized, retriable: false},
		{status: http.StatusUnprocessableEntity, retriable: false},
		{status: http.StatusRequestTimeout, retriable: true},
		{status: http.StatusTooManyRequests, retriable: true},
		{status: http.StatusInternalServerError, retriable: true},
		{status: http.StatusServiceUnavailable, retriable: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server, requests := captureServer(t, tt.status)

			tr, err := NewHTTP(HTTPConfig{URL: server.URL})
			require.NoError(t, err)

			err = tr.Emit(context.Background(), testEvent(t, "run-1", ""))
			<-requests

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, TypeHTTP, te.Transport)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.retriable, te.Retriable)
			assert.Equal(t, tt.retriable, IsRetriable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPTransport_ConnectionErrorIsRetriable(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr, err := NewHTTP(HTTPConfig{URL: url, Timeout: time.Second})
	require.NoError(t, err)

	err = tr.Emit(context.Background(), testEvent(t, "run-1", ""))
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
}

func TestHTTPTransport_SerializationErrorPassesThrough(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server, requests := captureServer(t, http.StatusOK)

	tr, err := NewHTTP(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	err = tr.Emit(context.Background(), unrepresentableEvent(t))

	var serr *lineage.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.False(t, IsRetriable(err))
	assert.Empty(t, requests)
}

func TestNewHTTP_InvalidConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewHTTP(HTTPConfig{})
	assert.ErrorIs(t, err, ErrMissingURL)

	_, err = NewHTTP(HTTPConfig{URL: "http://localhost:5000", Compression: "brotli"})
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestAPIKeyTokenProvider(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, "Bearer abc", APIKeyTokenProvider{APIKey: "abc"}.Bearer())
	assert.Empty(t, APIKeyTokenProvider{}.Bearer())
}

func TestHTTPTransport_CloseReleasesIdleConnections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	closed := make(chan struct{}, 1)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	}
	server.Start()
	t.Cleanup(server.Close)

	tr, err := NewHTTP(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	require.NoError(t, tr.Emit(context.Background(), testEvent(t, "run-1", "")))

	select {
	case <-closed:
		t.Fatal("keep-alive connection closed before the transport was")
	default:
	}

	require.NoError(t, NewComposite(false, tr).Close())

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection still open after Close")
	}
}
