package grpc

import (
	"context"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// ClaimsFromContext returns the verified access-token claims stored by the
// interceptor.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	p := s.policy(info.FullMethod)
	if p.Public {
		return handler(ctx, req)
	}

	accessToken := tokenFromMetadata(ctx)
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return nil, ToStatus(err)
	}
	if claims.Use != auth.UseAccess {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	if p.RequireVerified {
		id, err := claims.AccountID()
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		a, err := s.accounts.FindByID(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "account lookup failed", "account_id", id, "error", err)
			return nil, ToStatus(common.AuthError(common.ErrInvalidToken, "invalid token"))
		}
		if !a.Active {
			return nil, status.Error(codes.Unauthenticated, "account is inactive")
		}
		if !a.EmailVerified {
			return nil, status.Error(codes.PermissionDenied, "email not verified")
		}
	}

	ctx = context.WithValue(ctx, claimsKey, claims)

	return handler(ctx, req)
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 && values[0] != "" {
		return values[0]
	}
	for _, v := range md.Get(common.AuthorizationHeaderName) {
		if scheme, token, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return ""
}
