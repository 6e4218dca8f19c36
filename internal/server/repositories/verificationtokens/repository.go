package verificationtokens

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Repository persists single-use verification tokens. All time comparisons
// use the database clock.
type Repository interface {
	// Create inserts t with expires_at = now + ttl and fills ID, ExpiresAt and
	// CreatedAt. It returns false if t.Token is already taken.
	Create(ctx context.Context, t *models.VerificationToken, ttl time.Duration) (bool, error)
	// InvalidateUnused marks every unredeemed token of (accountID, purpose) as used.
	InvalidateUnused(ctx context.Context, accountID uuid.UUID, purpose models.TokenPurpose) (int64, error)
	// Redeem atomically marks a redeemable token as used and returns it, or
	// common.ErrorNotFound if no redeemable token matches.
	Redeem(ctx context.Context, token string, purpose models.TokenPurpose) (*models.VerificationToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}
