package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/sameehj/cellgate/pkg/kernel"
	"github.com/sameehj/cellgate/pkg/types"
	"github.com/sameehj/cellgate/pkg/version"
)

// Authorizer decides whether a remote address may call the service.
type Authorizer interface {
	Allow(ctx context.Context, remoteAddr string) error
}

// Service implements KernelServer on top of a session pool.
type Service struct {
	pool   *kernel.Pool
	logger *slog.Logger
}

func NewService(pool *kernel.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Service) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteReply, error) {
	g, created, err := s.pool.Acquire(sessionID(ctx))
	if err != nil {
		return nil, poolError(err)
	}
	if created {
		s.logInfo("grpc_session_start", "id", g.SessionID())
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(SessionHeader, g.SessionID()))

	outcome, err := g.Execute(ctx, types.NewRequest(req.Code, req.Silent, req.StoreHistory))
	if err != nil {
		if errors.Is(err, kernel.ErrNotInitialized) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ExecuteReply{SessionID: g.SessionID(), Outcome: outcome, Message: outcome.Message()}, nil
}

// Info reports on the named session. Without a session header it describes
// the server only and creates nothing.
func (s *Service) Info(ctx context.Context, _ *InfoRequest) (*InfoReply, error) {
	reply := &InfoReply{Sessions: s.pool.Len()}
	id := sessionID(ctx)
	if id == "" {
		reply.Info = kernel.Info{Implementation: version.Name, Version: version.Version}
		return reply, nil
	}
	g, ok := s.pool.Lookup(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown session %q", id)
	}
	reply.Info = g.Info()
	return reply, nil
}

// Release ends the named session.
func (s *Service) Release(ctx context.Context, _ *ReleaseRequest) (*ReleaseReply, error) {
	id := sessionID(ctx)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "missing "+SessionHeader+" header")
	}
	return &ReleaseReply{Released: s.pool.Release(id)}, nil
}

// Sessions describes the pooled sessions.
func (s *Service) Sessions() []kernel.PoolSession {
	return s.pool.List()
}

func sessionID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(SessionHeader); len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func poolError(err error) error {
	switch {
	case errors.Is(err, kernel.ErrSessionLimit):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, kernel.ErrInvalidSessionID):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// AuthorizeUnary rejects calls from peers the authorizer does not allow.
func AuthorizeUnary(auth Authorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		remote := ""
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}
		if err := auth.Allow(ctx, remote); err != nil {
			return nil, status.Error(codes.PermissionDenied, err.Error())
		}
		return handler(ctx, req)
	}
}

// NewServer returns a grpc.Server with the JSON codec and the service registered.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterKernelServer(srv, svc)
	return srv
}

// Serve runs srv on listener until ctx is cancelled.
func Serve(ctx context.Context, srv *grpc.Server, listener net.Listener) error {
	stop := context.AfterFunc(ctx, srv.GracefulStop)
	defer stop()
	if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Service) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
