package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// udpSocket pairs a socket with the lock that keeps deadline and write together.
type udpSocket struct {
	mu   sync.Mutex
	conn net.Conn
}

// UDPTransport writes one datagram per payload to a statsd-style server.
// Params: none.
// Returns: transport that lazily dials and reuses one socket per endpoint.
type UDPTransport struct {
	timeout time.Duration
	dial    dialFunc

	mu      sync.Mutex
	sockets map[string]*udpSocket
}

// NewUDPTransport creates the UDP transport.
// Params: timeout write deadline per datagram.
// Returns: transport safe for concurrent Send calls.
func NewUDPTransport(timeout time.Duration) *UDPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &UDPTransport{
		timeout: timeout,
		dial:    dialer.DialContext,
		sockets: make(map[string]*udpSocket),
	}
}

// Send writes payload as one datagram.
// Params: ctx attempt deadline; endpoint host:port; payload datagram bytes.
// Returns: Result; write errors drop the cached socket so the next send redials.
func (t *UDPTransport) Send(ctx context.Context, endpoint string, payload []byte) Result {
	address, err := normalizeHostPort(endpoint, DefaultStatsdPort)
	if err != nil {
		return Failure("invalid endpoint", err)
	}
	if err := ctx.Err(); err != nil {
		return Failure("canceled", err)
	}

	socket, err := t.socketForAddress(ctx, address)
	if err != nil {
		return Failure("dial", err)
	}

	socket.mu.Lock()
	defer socket.mu.Unlock()

	if err := socket.conn.SetWriteDeadline(contextTimeout(ctx, t.timeout)); err != nil {
		t.dropSocket(address, socket)
		return Failure("set deadline", err)
	}
	if _, err := socket.conn.Write(payload); err != nil {
		t.dropSocket(address, socket)
		return Failure("write", fmt.Errorf("write %s: %w", address, err))
	}
	return Success(0, "sent")
}

// Close closes every cached socket.
// Params: none.
// Returns: first close error when present.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	sockets := t.sockets
	t.sockets = make(map[string]*udpSocket)
	t.mu.Unlock()

	var firstErr error
	for _, socket := range sockets {
		if err := socket.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// socketForAddress returns the cached socket or dials and stores a new one.
// The dial runs without t.mu so a slow resolve does not stall other endpoints.
// Params: ctx attempt context; address destination host:port.
// Returns: reusable socket or dial error.
func (t *UDPTransport) socketForAddress(ctx context.Context, address string) (*udpSocket, error) {
	t.mu.Lock()
	if socket, ok := t.sockets[address]; ok {
		t.mu.Unlock()
		return socket, nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, exists := t.sockets[address]; exists {
		_ = conn.Close()
		return cached, nil
	}
	socket := &udpSocket{conn: conn}
	t.sockets[address] = socket
	return socket, nil
}

// dropSocket closes and forgets socket if it is still the cached one for address.
// Params: address destination host:port; socket the failed socket.
// Returns: none.
func (t *UDPTransport) dropSocket(address string, socket *udpSocket) {
	t.mu.Lock()
	if cached, ok := t.sockets[address]; ok && cached == socket {
		delete(t.sockets, address)
	}
	t.mu.Unlock()
	_ = socket.conn.Close()
}
