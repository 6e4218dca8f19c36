package grpc

import (
	"context"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const sessionWhoAmI = "/connect.v1.Session/WhoAmI"

// SessionServer describes the session of the calling access token.
type SessionServer interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type sessionService struct {
	accounts AccountFinder
}

// WhoAmI returns the claims of the caller's access token, enriched with the
// stored account when an AccountFinder is configured.
func (s *sessionService) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	out := map[string]any{
		"account_id": claims.Subject,
		"email":      claims.Email,
		"role":       claims.Role,
	}
	if claims.ExpiresAt != nil {
		out["expires_at"] = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if s.accounts != nil {
		id, err := claims.AccountID()
		if err != nil {
			return nil, ToStatus(err)
		}
		a, err := s.accounts.FindByID(ctx, id)
		if err != nil {
			return nil, ToStatus(common.AuthError(common.ErrInvalidToken, "invalid token"))
		}
		out["username"] = a.Username
		out["email"] = a.Email
		out["role"] = a.Role
		out["email_verified"] = a.EmailVerified
	}

	return structpb.NewStruct(out)
}

func sessionWhoAmIHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sessionWhoAmI,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: "connect.v1.Session",
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "WhoAmI",
			Handler:    sessionWhoAmIHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "connect/v1/session.proto",
}

// RegisterSessionServer registers the session service on r.
func RegisterSessionServer(r grpc.ServiceRegistrar, srv SessionServer) {
	r.RegisterService(&sessionServiceDesc, srv)
}
