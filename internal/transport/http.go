package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// Compression values for HTTPConfig.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
)

const (
	// DefaultEndpoint is the OpenLineage collector path appended to the URL.
	DefaultEndpoint    = "api/v1/lineage"
	defaultHTTPTimeout = 5 * time.Second
	maxErrorBody       = 1 << 10
)

var (
	// ErrMissingURL is returned when an HTTP transport has no target URL.
	ErrMissingURL = errors.New("http transport requires a url")
	// ErrUnknownCompression is returned for compression values other than gzip.
	ErrUnknownCompression = errors.New("unsupported compression")
)

// TokenProvider supplies the Authorization header value for each request.
type TokenProvider interface {
	Bearer() string
}

// APIKeyTokenProvider authenticates with a static API key.
type APIKeyTokenProvider struct {
	APIKey string
}

// Bearer returns "Bearer <key>", or "" when no key is set.
func (p APIKeyTokenProvider) Bearer() string {
	if p.APIKey == "" {
		return ""
	}

	return "Bearer " + p.APIKey
}

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	URL         string
	Endpoint    string // defaults to DefaultEndpoint
	Timeout     time.Duration
	Verify      bool // verify the server's TLS certificate
	Compression string
	Auth        TokenProvider
	Headers     map[string]string
}

// HTTPTransport POSTs each event as JSON to an OpenLineage collector.
type HTTPTransport struct {
	target      string
	client      *http.Client
	compression string
	auth        TokenProvider
	headers     map[string]string
}

// NewHTTP validates cfg and builds the transport.
func NewHTTP(cfg HTTPConfig) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}

	if cfg.Compression != CompressionNone && cfg.Compression != CompressionGzip {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, cfg.Compression)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	target, err := url.JoinPath(cfg.URL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid http transport url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPTransport{
		target: target,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS12,
					InsecureSkipVerify: !cfg.Verify, //nolint:gosec // opt-out mirrors the client's verify setting
				},
			},
		},
		compression: cfg.Compression,
		auth:        cfg.Auth,
		headers:     cfg.Headers,
	}, nil
}

// Close releases the transport's idle keep-alive connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()

	return nil
}

// Target returns the full URL events are posted to.
func (t *HTTPTransport) Target() string {
	return t.target
}

// Emit posts the event. Non-2xx responses become *Error carrying the status;
// 408, 429 and 5xx are retriable, as are connection failures.
func (t *HTTPTransport) Emit(ctx context.Context, event *lineage.RunEvent) error {
	body, err := encode(event, false)
	if err != nil {
		return err
	}

	if t.compression == CompressionGzip {
		if body, err = gzipBody(body); err != nil {
			return newError(TypeHTTP, false, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.target, bytes.NewReader(body))
	if err != nil {
		return newError(TypeHTTP, false, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if t.compression == CompressionGzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	if t.auth != nil {
		if bearer := t.auth.Bearer(); bearer != "" {
			req.Header.Set("Authorization", bearer)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return newError(TypeHTTP, ctx.Err() == nil, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	return &Error{
		Transport:  TypeHTTP,
		StatusCode: resp.StatusCode,
		Retriable:  retriableStatus(resp.StatusCode),
		Err:        fmt.Errorf("%s: %s", http.StatusText(resp.StatusCode), strings.TrimSpace(string(detail))),
	}
}

func retriableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("gzip event: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip event: %w", err)
	}

	return buf.Bytes(), nil
}
