package grpc

import (
	"context"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AccountFinder loads accounts for methods that require a verified email.
type AccountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// MethodPolicy describes how the interceptor treats one full method name.
// Methods without a policy require a valid access token.
type MethodPolicy struct {
	Public          bool
	RequireVerified bool
}

type GRPCServer struct {
	address  string
	tokens   *auth.TokenIssuer
	accounts AccountFinder
	policies map[string]MethodPolicy
	health   *health.Server
	services []func(grpc.ServiceRegistrar)
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, tokens *auth.TokenIssuer, accounts AccountFinder) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		tokens:   tokens,
		accounts: accounts,
		policies: map[string]MethodPolicy{},
		health:   health.NewServer(),
	}
}

// SetPolicy overrides the default policy for a full method name such as
// "/pkg.Service/Method".
func (s *GRPCServer) SetPolicy(fullMethod string, p MethodPolicy) {
	s.policies[fullMethod] = p
}

// Register queues a service registration that is applied when Run starts.
func (s *GRPCServer) Register(fn func(grpc.ServiceRegistrar)) {
	s.services = append(s.services, fn)
}

func (s *GRPCServer) policy(fullMethod string) MethodPolicy {
	if p, ok := s.policies[fullMethod]; ok {
		return p
	}
	if strings.HasPrefix(fullMethod, healthPrefix) {
		return MethodPolicy{Public: true}
	}
	return MethodPolicy{}
}

const healthPrefix = "/grpc.health.v1.Health/"

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	// creates gRPC-server
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	// registers services
	healthpb.RegisterHealthServer(srv, s.health)
	RegisterSessionServer(srv, &sessionService{accounts: s.accounts})
	for _, fn := range s.services {
		fn(srv)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
