package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TestHTTPTransport_PostsPayloadWithCredentials verifies method, headers and api_key query.
// Params: testing.T for assertions.
// Returns: none.
func TestHTTPTransport_PostsPayloadWithCredentials(t *testing.T) {
	var (
		gotMethod string
		gotType   string
		gotHeader string
		gotQuery  string
		gotBody   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("DD-API-KEY")
		gotQuery = r.URL.Query().Get("api_key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	transport := NewHTTPTransport(HTTPOptions{APIKey: "secret", Timeout: time.Second})
	defer transport.Close()

	result := transport.Send(context.Background(), server.URL+"/api/v1/series", []byte(`{"series":[]}`))
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", result.StatusCode)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("unexpected method: %s", gotMethod)
	}
	if gotType != "application/json; charset=utf-8" {
		t.Fatalf("unexpected content type: %q", gotType)
	}
	if gotHeader != "secret" || gotQuery != "secret" {
		t.Fatalf("credentials not passed: header=%q query=%q", gotHeader, gotQuery)
	}
	if string(gotBody) != `{"series":[]}` {
		t.Fatalf("unexpected body: %s", gotBody)
	}
}

// TestHTTPTransport_GzipBody verifies compressed payloads round-trip.
// Params: testing.T for assertions.
// Returns: none.
func TestHTTPTransport_GzipBody(t *testing.T) {
	var decoded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reader, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		decoded, _ = io.ReadAll(reader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport(HTTPOptions{Gzip: true})
	result := transport.Send(context.Background(), server.URL, []byte("hello"))
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}
	if string(decoded) != "hello" {
		t.Fatalf("unexpected decoded body: %q", decoded)
	}
}

// TestHTTPTransport_SummarizesErrorBody verifies non-2xx failures carry the collector error list.
// Params: testing.T for assertions.
// Returns: none.
func TestHTTPTransport_SummarizesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["Forbidden","bad key"]}`))
	}))
	defer server.Close()

	result := NewHTTPTransport(HTTPOptions{}).Send(context.Background(), server.URL, []byte("{}"))
	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected status code: %d", result.StatusCode)
	}
	if result.Detail != "Forbidden; bad key" {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

// TestHTTPTransport_TimeoutIsFailure verifies an expired deadline yields a failed result.
// Params: testing.T for assertions.
// Returns: none.
func TestHTTPTransport_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	result := NewHTTPTransport(HTTPOptions{APIKey: "secret"}).Send(ctx, server.URL, []byte("{}"))
	if result.OK {
		t.Fatalf("expected timeout failure")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("send not bounded by deadline: %s", elapsed)
	}
	if strings.Contains(result.Detail, "secret") {
		t.Fatalf("credential leaked into detail: %q", result.Detail)
	}
}

// TestUDPTransport_SendsDatagram verifies datagram delivery and socket reuse.
// Params: testing.T for assertions.
// Returns: none.
func TestUDPTransport_SendsDatagram(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer listener.Close()

	transport := NewUDPTransport(time.Second)
	defer transport.Close()

	for _, line := range []string{"a:1|c", "b:2|g"} {
		result := transport.Send(context.Background(), listener.LocalAddr().String(), []byte(line))
		if !result.OK {
			t.Fatalf("send %q: %+v", line, result)
		}

		buf := make([]byte, 512)
		_ = listener.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := listener.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read datagram: %v", err)
		}
		if string(buf[:n]) != line {
			t.Fatalf("unexpected datagram: %q", buf[:n])
		}
	}

	transport.mu.Lock()
	cached := len(transport.sockets)
	transport.mu.Unlock()
	if cached != 1 {
		t.Fatalf("expected one cached socket, got %d", cached)
	}
}

// TestUDPTransport_ConcurrentSends verifies shared socket use from many goroutines.
// Params: testing.T for assertions.
// Returns: none.
func TestUDPTransport_ConcurrentSends(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer listener.Close()

	transport := NewUDPTransport(time.Second)
	defer transport.Close()

	var wg sync.WaitGroup
	failures := make(chan Result, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result := transport.Send(context.Background(), listener.LocalAddr().String(), []byte("x:1|c")); !result.OK {
				failures <- result
			}
		}()
	}
	wg.Wait()
	close(failures)
	for result := range failures {
		t.Fatalf("concurrent send failed: %+v", result)
	}
}

// TestUDPTransport_SlowDialDoesNotBlockOtherEndpoints verifies resolving one endpoint does not stall others.
// Params: testing.T for assertions.
// Returns: none.
func TestUDPTransport_SlowDialDoesNotBlockOtherEndpoints(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer listener.Close()

	transport := NewUDPTransport(time.Second)
	defer transport.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	realDial := transport.dial
	transport.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		if address == "statsd.slow.invalid:8125" {
			close(entered)
			<-release
			return nil, context.DeadlineExceeded
		}
		return realDial(ctx, network, address)
	}

	slow := make(chan Result, 1)
	go func() {
		slow <- transport.Send(context.Background(), "statsd.slow.invalid", []byte("x:1|c"))
	}()
	<-entered

	fast := make(chan Result, 1)
	go func() {
		fast <- transport.Send(context.Background(), listener.LocalAddr().String(), []byte("y:1|c"))
	}()

	select {
	case result := <-fast:
		if !result.OK {
			t.Fatalf("fast send failed: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatalf("send blocked behind a slow dial")
	}

	close(release)
	if result := <-slow; result.OK {
		t.Fatalf("slow dial should fail")
	}
}

type captureCollector struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     error
}

func (c *captureCollector) Push(_ context.Context, payload *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	c.payloads = append(c.payloads, bytes.Clone(payload.GetValue()))
	return &emptypb.Empty{}, nil
}

func startCollector(t *testing.T, collector CollectorServer) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	server := grpc.NewServer()
	RegisterCollector(server, collector)
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)
	return listener.Addr().String()
}

// TestGRPCTransport_PushesPayload verifies the unary push reaches the collector.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCTransport_PushesPayload(t *testing.T) {
	collector := &captureCollector{}
	address := startCollector(t, collector)

	transport := NewGRPCTransport(2 * time.Second)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := transport.Send(ctx, address, []byte{0xa1, 0x01, 0x02})
	if !result.OK {
		t.Fatalf("expected success, got %+v", result)
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.payloads) != 1 || !bytes.Equal(collector.payloads[0], []byte{0xa1, 0x01, 0x02}) {
		t.Fatalf("unexpected captured payloads: %v", collector.payloads)
	}
}

// TestGRPCTransport_StatusCodeOnFailure verifies rpc errors map to Result status.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCTransport_StatusCodeOnFailure(t *testing.T) {
	collector := &captureCollector{fail: status.Error(codes.ResourceExhausted, "slow down")}
	address := startCollector(t, collector)

	transport := NewGRPCTransport(2 * time.Second)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := transport.Send(ctx, address, []byte("x"))
	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.StatusCode != int(codes.ResourceExhausted) {
		t.Fatalf("unexpected status code: %d (%s)", result.StatusCode, result.Status)
	}
	if !strings.Contains(result.Detail, "slow down") {
		t.Fatalf("unexpected detail: %q", result.Detail)
	}
}

type selectiveCollector struct {
	slow time.Duration
}

// Push rejects "bad" payloads and answers the rest after a delay.
func (c *selectiveCollector) Push(ctx context.Context, payload *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if string(payload.GetValue()) == "bad" {
		return nil, status.Error(codes.InvalidArgument, "malformed payload")
	}
	select {
	case <-time.After(c.slow):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &emptypb.Empty{}, nil
}

// TestGRPCTransport_RejectedPayloadKeepsSharedConn verifies a per-call error does not fail concurrent sends.
// Params: testing.T for assertions.
// Returns: none.
func TestGRPCTransport_RejectedPayloadKeepsSharedConn(t *testing.T) {
	address := startCollector(t, &selectiveCollector{slow: 300 * time.Millisecond})

	transport := NewGRPCTransport(2 * time.Second)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if warm := transport.Send(ctx, address, []byte("warm")); !warm.OK {
		t.Fatalf("warm-up send failed: %+v", warm)
	}
	conn := transport.cachedConn(address)
	if conn == nil {
		t.Fatalf("connection not cached")
	}

	good := make(chan Result, 1)
	go func() {
		good <- transport.Send(ctx, address, []byte("good"))
	}()
	time.Sleep(50 * time.Millisecond)

	bad := transport.Send(ctx, address, []byte("bad"))
	if bad.OK || bad.StatusCode != int(codes.InvalidArgument) {
		t.Fatalf("unexpected rejected result: %+v", bad)
	}

	if result := <-good; !result.OK {
		t.Fatalf("healthy send failed because of another send: %+v", result)
	}
	if transport.cachedConn(address) != conn {
		t.Fatalf("shared connection was replaced after a per-call error")
	}
}

// TestLogTransport_AlwaysSucceeds verifies the debug transport.
// Params: testing.T for assertions.
// Returns: none.
func TestLogTransport_AlwaysSucceeds(t *testing.T) {
	var buf bytes.Buffer
	transport := NewLogTransport(slog.New(slog.NewTextHandler(&buf, nil)))
	if result := transport.Send(context.Background(), "debug", []byte("payload-1")); !result.OK {
		t.Fatalf("expected success")
	}
	if !strings.Contains(buf.String(), "payload-1") {
		t.Fatalf("payload not logged: %s", buf.String())
	}
}

// TestValidateEndpoint covers construction-time endpoint checks.
// Params: testing.T for assertions.
// Returns: none.
func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		kind     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{kind: "http", endpoint: "https://api.example.com/api/v1/series", want: "https://api.example.com/api/v1/series"},
		{kind: "http", endpoint: "ftp://example.com", wantErr: true},
		{kind: "http", endpoint: "", wantErr: true},
		{kind: "udp", endpoint: "localhost", want: "localhost:8125"},
		{kind: "dogstatsd", endpoint: "127.0.0.1:9125", want: "127.0.0.1:9125"},
		{kind: "udp", endpoint: "127.0.0.1:0", wantErr: true},
		{kind: "udp", endpoint: "127.0.0.1:70000", wantErr: true},
		{kind: "grpc", endpoint: "collector", wantErr: true},
		{kind: "grpc", endpoint: "collector:6000", want: "collector:6000"},
		{kind: "smtp", endpoint: "x", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ValidateEndpoint(tc.kind, tc.endpoint)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %s %q", tc.kind, tc.endpoint)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %s %q: %v", tc.kind, tc.endpoint, err)
		}
		if got != tc.want {
			t.Fatalf("unexpected endpoint for %s %q: %q", tc.kind, tc.endpoint, got)
		}
	}
}
