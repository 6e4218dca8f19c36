package services

import (
	"context"

	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
)

// Notifier delivers verification links out of band. Implementations own the
// transport and templates.
type Notifier interface {
	SendVerification(ctx context.Context, a *models.Account, link string) error
	SendPasswordReset(ctx context.Context, a *models.Account, link string) error
}

// LogNotifier writes links to the log instead of sending them.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notifier")}
}

func (n *LogNotifier) SendVerification(ctx context.Context, a *models.Account, link string) error {
	n.logger.Info(ctx, "verification email", "account_id", a.ID, "email", a.Email, "link", link)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, a *models.Account, link string) error {
	n.logger.Info(ctx, "password reset email", "account_id", a.ID, "email", a.Email, "link", link)
	return nil
}
