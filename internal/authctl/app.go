// Package authctl implements the operator command line of the connect
// core: schema migrations, token purges and administrator management.
package authctl

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/config"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
	"github.com/safatanc/safatanc-connect-core/internal/server/services"
)

const usage = `Usage: authctl [-c config.json] [-d dsn] <command> [args]

Commands:
  migrate                           apply database migrations
  purge-tokens                      delete expired verification tokens
  create-admin [email] [username]   create a verified administrator
  promote <email|username> [role]   set the role of an account (default admin)
  help                              show this message`

// Operations are the actions behind the commands.
type Operations interface {
	Migrate(ctx context.Context) error
	PurgeTokens(ctx context.Context) (int64, error)
	CreateAdmin(ctx context.Context, email, username, password string) (*models.Account, error)
	SetRole(ctx context.Context, identifier, role string) (*models.Account, error)
}

type App struct {
	ops    Operations
	reader *bufio.Reader
	out    io.Writer
	close  func() error
}

// NewApp connects to the configured database.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(os.Stderr, c.LogLevel)
	m := repomanager.NewPostgresRepositoryManager()
	ops := &backend{
		db:           db,
		manager:      m,
		verification: services.NewVerificationTokenService(db, m, nil, logger),
		admin:        services.NewAdminService(db, m, cryptox.NewPasswordHasher(c.Argon2Params()), logger),
	}

	app := newApp(ops, os.Stdin, os.Stdout)
	app.close = db.Close
	return app, nil
}

func newApp(ops Operations, in io.Reader, out io.Writer) *App {
	return &App{ops: ops, reader: bufio.NewReader(in), out: out}
}

// Close releases the database connection.
func (a *App) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return 0
	case "migrate":
		err = a.migrate(ctx)
	case "purge-tokens":
		err = a.purgeTokens(ctx)
	case "create-admin":
		err = a.createAdmin(ctx, rest)
	case "promote":
		err = a.promote(ctx, rest)
	default:
		fmt.Fprintln(a.out, "Unknown command:", cmd)
		fmt.Fprintln(a.out, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintln(a.out, "Error:", describe(err))
		return 1
	}
	return 0
}

func (a *App) migrate(ctx context.Context) error {
	if err := a.ops.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Migrations applied")
	return nil
}

func (a *App) purgeTokens(ctx context.Context) error {
	n, err := a.ops.PurgeTokens(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Purged %d expired tokens\n", n)
	return nil
}

func (a *App) createAdmin(ctx context.Context, args []string) error {
	email, username := arg(args, 0), arg(args, 1)

	var err error
	if email == "" {
		if email, err = GetSimpleText(a.reader, "Email", a.out); err != nil {
			return err
		}
	}
	if username == "" {
		if username, err = GetSimpleText(a.reader, "Username", a.out); err != nil {
			return err
		}
	}
	password, err := GetNewPassword(a.reader, a.out)
	if err != nil {
		return err
	}

	acc, err := a.ops.CreateAdmin(ctx, email, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created admin %s (%s)\n", acc.Username, acc.ID)
	return nil
}

func (a *App) promote(ctx context.Context, args []string) error {
	identifier := arg(args, 0)
	if identifier == "" {
		return errors.New("usage: promote <email|username> [role]")
	}
	role := arg(args, 1)
	if role == "" {
		role = models.RoleAdmin
	}

	acc, err := a.ops.SetRole(ctx, identifier, role)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s is now %s\n", acc.Username, acc.Role)
	return nil
}

func arg(args []string, i int) string {
	if i < len(args) {
		return strings.TrimSpace(args[i])
	}
	return ""
}

// describe prefers the client-safe message of service errors.
func describe(err error) string {
	var e *common.Error
	if errors.As(err, &e) {
		return common.PublicMessage(err)
	}
	return err.Error()
}

type backend struct {
	db           *sql.DB
	manager      repomanager.RepositoryManager
	verification *services.VerificationTokenService
	admin        *services.AdminService
}

func (b *backend) Migrate(ctx context.Context) error {
	return b.manager.RunMigrations(ctx, b.db)
}

func (b *backend) PurgeTokens(ctx context.Context) (int64, error) {
	return b.verification.PurgeExpired(ctx)
}

func (b *backend) CreateAdmin(ctx context.Context, email, username, password string) (*models.Account, error) {
	return b.admin.CreateAdmin(ctx, email, username, password)
}

func (b *backend) SetRole(ctx context.Context, identifier, role string) (*models.Account, error) {
	return b.admin.SetRole(ctx, identifier, role)
}
