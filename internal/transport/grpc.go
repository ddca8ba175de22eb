package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/core/provider"
	"csharp-provider/internal/shared/util"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service every method is registered under.
const ServiceName = "provider.ProviderService"

// methods maps gRPC method names to provider operations.
var methods = []struct {
	name      string
	operation string
}{
	{"Capabilities", provider.OpCapabilities},
	{"Init", provider.OpInit},
	{"Evaluate", provider.OpEvaluate},
	{"Stop", provider.OpStop},
	{"GetDependencies", provider.OpDependencies},
	{"GetDependenciesDAG", provider.OpDependenciesDAG},
	{"NotifyFileChanges", provider.OpNotifyFileChanges},
}

// GRPCConfig selects the listener: a unix socket when Socket is set,
// otherwise TCP on Port.
type GRPCConfig struct {
	Port      int
	Socket    string
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// GRPC serves the provider with google.protobuf.Struct requests and
// responses, plus the standard health service.
type GRPC struct {
	cfg      GRPCConfig
	logger   *slog.Logger
	limiters *util.LimiterRegistry
	health   *health.Server

	mu     sync.Mutex
	server *grpc.Server
	addr   net.Addr
}

func NewGRPC(cfg GRPCConfig) *GRPC {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GRPC{
		cfg:      cfg,
		logger:   cfg.Logger,
		limiters: util.NewLimiterRegistry(cfg.RateLimit, cfg.RateBurst, 10*time.Minute),
		health:   health.NewServer(),
	}
}

// structServer is the handler type registered with the service descriptor.
type structServer interface {
	serve(ctx context.Context, operation string, in *structpb.Struct) (*structpb.Struct, error)
}

type structService struct {
	handler Handler
}

func (s *structService) serve(ctx context.Context, operation string, in *structpb.Struct) (*structpb.Struct, error) {
	var args map[string]any
	if in != nil {
		args = in.AsMap()
	}
	result, err := call(ctx, s.handler, operation, args)
	if err != nil {
		return nil, statusOf(err)
	}
	out, err := toStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func serviceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*structServer)(nil),
		Metadata:    "provider.proto",
	}
	for _, m := range methods {
		operation := m.operation
		fullMethod := "/" + ServiceName + "/" + m.name
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(structServer).serve(ctx, operation, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(structServer).serve(ctx, operation, req.(*structpb.Struct))
				})
			},
		})
	}
	return desc
}

func (g *GRPC) listen() (net.Listener, error) {
	if g.cfg.Socket != "" {
		if err := os.Remove(g.cfg.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale socket %q: %w", g.cfg.Socket, err)
		}
		return net.Listen("unix", g.cfg.Socket)
	}
	return net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Port))
}

// Start serves until ctx is cancelled or Stop is called.
func (g *GRPC) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return domainErrors.New(domainErrors.CodeInvalidConfig, "grpc handler is required")
	}
	ln, err := g.listen()
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln, handler)
}

// Serve runs on an existing listener.
func (g *GRPC) Serve(ctx context.Context, ln net.Listener, handler Handler) error {
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(g.rateLimit, g.logCalls))
	desc := serviceDesc()
	server.RegisterService(&desc, &structService{handler: handler})
	healthpb.RegisterHealthServer(server, g.health)
	g.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g.mu.Lock()
	g.server = server
	g.addr = ln.Addr()
	g.mu.Unlock()

	g.logger.Info("grpc transport listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case <-ctx.Done():
		g.Stop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Addr returns the listening address once serving.
func (g *GRPC) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

func (g *GRPC) Stop() error {
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()

	g.health.Shutdown()
	g.limiters.Close()
	if server != nil {
		server.GracefulStop()
	}
	if g.cfg.Socket != "" {
		_ = os.Remove(g.cfg.Socket)
	}
	return nil
}

func (g *GRPC) rateLimit(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	key := "local"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		key = p.Addr.String()
	}
	if !g.limiters.Get(key).Allow(1) {
		return nil, statusOf(throttled(operationOf(info.FullMethod)))
	}
	return next(ctx, req)
}

func (g *GRPC) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	g.logger.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	return resp, err
}

func operationOf(fullMethod string) string {
	for _, m := range methods {
		if fullMethod == "/"+ServiceName+"/"+m.name {
			return m.operation
		}
	}
	return fullMethod
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

var grpcCodes = map[domainErrors.ErrorCode]codes.Code{
	domainErrors.CodeInvalidConfig:         codes.InvalidArgument,
	domainErrors.CodeInvalidCondition:      codes.InvalidArgument,
	domainErrors.CodeUnknownCapability:     codes.InvalidArgument,
	domainErrors.CodeSessionNotReady:       codes.FailedPrecondition,
	domainErrors.CodeToolInvocationFailure: codes.Unavailable,
	domainErrors.CodeParseFailure:          codes.Internal,
	domainErrors.CodePersistenceFailure:    codes.Internal,
	domainErrors.CodeNotFound:              codes.NotFound,
	domainErrors.CodeCancelled:             codes.Canceled,
	domainErrors.CodeRateLimited:           codes.ResourceExhausted,
}

// statusOf maps a domain error to a gRPC status. The message keeps the
// domain code as a prefix so clients can tell init causes apart.
func statusOf(err error) error {
	body := provider.ErrorBodyOf(err)
	code, ok := grpcCodes[domainErrors.ErrorCode(body.Code)]
	if !ok {
		code = codes.Internal
	}
	msg := body.Code + ": " + body.Message
	if len(body.Context) > 0 {
		msg += fmt.Sprintf(" %v", body.Context)
	}
	return status.Error(code, msg)
}
