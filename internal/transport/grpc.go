package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// CollectorServiceName is the gRPC service exposed by collectors.
const CollectorServiceName = "telship.collector.v1.Collector"

// PushMethod is the full method name of the unary push call.
const PushMethod = "/" + CollectorServiceName + "/Push"

// CollectorServer receives encoded payloads pushed by GRPCTransport.
// Params: ctx rpc context; payload encoded event bytes.
// Returns: empty response or rpc error.
type CollectorServer interface {
	Push(ctx context.Context, payload *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// CollectorServiceDesc describes the collector service for grpc.Server registration.
var CollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: CollectorServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Push",
			Handler:    pushHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "telship/collector/v1/collector.proto",
}

// RegisterCollector registers a CollectorServer on a gRPC server.
// Params: registrar gRPC server; server implementation.
// Returns: none.
func RegisterCollector(registrar grpc.ServiceRegistrar, server CollectorServer) {
	registrar.RegisterService(&CollectorServiceDesc, server)
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PushMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Push(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCTransport pushes payloads with one unary call per event.
// Params: none.
// Returns: transport caching one client connection per address.
type GRPCTransport struct {
	timeout time.Duration

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCTransport creates the gRPC transport.
// Params: timeout dial timeout when the attempt context has no deadline.
// Returns: transport safe for concurrent Send calls.
func NewGRPCTransport(timeout time.Duration) *GRPCTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GRPCTransport{
		timeout: timeout,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// Send pushes payload to one collector address.
// Params: ctx attempt deadline; endpoint host:port; payload encoded bytes.
// Returns: Result carrying the gRPC status code.
func (t *GRPCTransport) Send(ctx context.Context, endpoint string, payload []byte) Result {
	addr := strings.TrimSpace(endpoint)
	if addr == "" {
		return Failure("invalid endpoint", fmt.Errorf("collector address is empty"))
	}

	conn, err := t.connForAddress(ctx, addr)
	if err != nil {
		return Failure(codes.Unavailable.String(), err)
	}

	if err := conn.Invoke(ctx, PushMethod, wrapperspb.Bytes(payload), &emptypb.Empty{}); err != nil {
		t.dropIfBroken(addr, conn)
		st, _ := status.FromError(err)
		return Result{
			StatusCode: int(st.Code()),
			Status:     st.Code().String(),
			Detail:     fmt.Sprintf("push %s: %s", addr, st.Message()),
		}
	}
	return Success(int(codes.OK), codes.OK.String())
}

// Close closes all cached connections.
// Params: none.
// Returns: first close error when present.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*grpc.ClientConn)
	t.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// connForAddress returns the cached connection or dials and stores a new one.
// Params: ctx attempt context; address destination host:port.
// Returns: reusable client connection or dial error.
func (t *GRPCTransport) connForAddress(ctx context.Context, address string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	if conn, ok := t.conns[address]; ok {
		t.mu.RUnlock()
		return conn, nil
	}
	t.mu.RUnlock()

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, exists := t.conns[address]; exists {
		_ = conn.Close()
		return cached, nil
	}
	t.conns[address] = conn
	return conn, nil
}

// dropIfBroken evicts conn when its channel has failed or shut down.
// Per-call status errors leave the shared connection to other in-flight sends.
// Params: address destination host:port; conn connection used by the failed call.
// Returns: none.
func (t *GRPCTransport) dropIfBroken(address string, conn *grpc.ClientConn) {
	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cached, exists := t.conns[address]
	if !exists || cached != conn {
		return
	}
	delete(t.conns, address)
	_ = conn.Close()
}

// cachedConn returns the cached connection for address, if any.
func (t *GRPCTransport) cachedConn(address string) *grpc.ClientConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[address]
}
