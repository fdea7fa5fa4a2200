package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

const maxErrorBodyBytes = 2048

// HTTPOptions configures the shared HTTP transport.
// Params: APIKey credential; ContentType body type; Timeout client timeout; Gzip body compression.
// Returns: options value.
type HTTPOptions struct {
	APIKey      string
	ContentType string
	Timeout     time.Duration
	Gzip        bool
	Headers     map[string]string
}

// HTTPTransport POSTs payloads through one shared *http.Client.
// Params: none.
// Returns: transport safe for concurrent Send calls.
type HTTPTransport struct {
	client      *http.Client
	apiKey      string
	contentType string
	gzip        bool
	headers     map[string]string
	parsers     fastjson.ParserPool
}

// NewHTTPTransport creates the HTTP transport.
// Params: options credentials, content type and timeout.
// Returns: configured transport.
func NewHTTPTransport(options HTTPOptions) *HTTPTransport {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	contentType := strings.TrimSpace(options.ContentType)
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}

	headers := make(map[string]string, len(options.Headers))
	for key, value := range options.Headers {
		headers[key] = value
	}

	return &HTTPTransport{
		client: &http.Client{
			Timeout: timeout,
		},
		apiKey:      strings.TrimSpace(options.APIKey),
		contentType: contentType,
		gzip:        options.Gzip,
		headers:     headers,
	}
}

// Send performs one POST to endpoint.
// Params: ctx request deadline; endpoint URL; payload body bytes.
// Returns: Result with HTTP status; non-2xx and network errors are failures.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, payload []byte) Result {
	target, err := t.targetURL(endpoint)
	if err != nil {
		return Failure("invalid endpoint", err)
	}

	body := payload
	if t.gzip {
		body, err = gzipBody(payload)
		if err != nil {
			return Failure("compress", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Failure("build request", err)
	}
	req.Header.Set("Content-Type", t.contentType)
	if t.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if t.apiKey != "" {
		req.Header.Set("DD-API-KEY", t.apiKey)
	}
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return Failure("request failed", fmt.Errorf("POST %s: %w", redact(endpoint), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     t.summarizeErrorBody(raw),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return Success(resp.StatusCode, resp.Status)
}

// Close releases idle keep-alive connections.
// Params: none.
// Returns: always nil.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// targetURL appends the api_key query parameter when configured.
// Params: endpoint base URL.
// Returns: final URL or parse error.
func (t *HTTPTransport) targetURL(endpoint string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	if t.apiKey != "" {
		query := parsed.Query()
		query.Set("api_key", t.apiKey)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// summarizeErrorBody extracts a Datadog-style {"errors":[...]} list when present.
// Params: raw response body prefix.
// Returns: joined error strings or trimmed body text.
func (t *HTTPTransport) summarizeErrorBody(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}

	parser := t.parsers.Get()
	defer t.parsers.Put(parser)

	value, err := parser.ParseBytes(raw)
	if err != nil {
		return text
	}
	items := value.GetArray("errors")
	if len(items) == 0 {
		return text
	}

	messages := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type() == fastjson.TypeString {
			messages = append(messages, string(item.GetStringBytes()))
			continue
		}
		messages = append(messages, item.String())
	}
	return strings.Join(messages, "; ")
}

// gzipBody compresses payload for Content-Encoding: gzip.
func gzipBody(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// redact strips query strings so credentials never reach the log sink.
func redact(endpoint string) string {
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		return endpoint[:idx]
	}
	return endpoint
}
