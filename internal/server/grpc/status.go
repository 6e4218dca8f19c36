package grpc

import (
	"errors"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatus converts a service error into a gRPC status carrying the
// client-safe message. Causes are never sent to the client.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeOf(err), common.PublicMessage(err))
}

func codeOf(err error) codes.Code {
	kind := common.KindOf(err)
	switch {
	case errors.Is(kind, common.ErrAuthentication):
		return codes.Unauthenticated
	case errors.Is(kind, common.ErrValidation), errors.Is(kind, common.ErrInvalidToken):
		return codes.InvalidArgument
	case errors.Is(kind, common.ErrorNotFound):
		return codes.NotFound
	case errors.Is(kind, common.ErrConfiguration):
		return codes.FailedPrecondition
	case errors.Is(kind, common.ErrUnexpected):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
