// Package oauth federates identity through third-party OAuth 2.0 providers:
// it builds authorization URLs, handles callbacks, and links or provisions
// local accounts.
package oauth

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/cryptox"
	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
	"github.com/safatanc/safatanc-connect-core/internal/server/metrics"
	"github.com/safatanc/safatanc-connect-core/internal/server/models"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/accounts"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/repomanager"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	userAgent           = "SafaTanc-Connect"
	maxProfileBytes     = 1 << 20
	maxUsernameAttempts = 100
	randomPasswordLen   = 32
)

var (
	tracer = otel.Tracer("github.com/safatanc/safatanc-connect-core/internal/server/oauth")

	usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
)

// Deps are the collaborators of a Federator.
type Deps struct {
	Tokens    *auth.TokenIssuer
	Hasher    *cryptox.PasswordHasher
	Sealer    *cryptox.Sealer
	State     *StateCodec
	Redirects *RedirectPolicy
	// HTTPClient is used for the code exchange and the profile request.
	// http.DefaultClient when nil.
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

// Federator implements the authorization-code flow against providers stored
// in oauth_providers.
type Federator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenIssuer
	hasher      *cryptox.PasswordHasher
	sealer      *cryptox.Sealer
	state       *StateCodec
	redirects   *RedirectPolicy
	httpClient  *http.Client
	normalizers map[string]ProfileNormalizer
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewFederator constructs a Federator over the provider, account and
// connection repositories of m. Tokens, Hasher, Sealer, State and Redirects
// are required.
func NewFederator(db *sql.DB, m repomanager.RepositoryManager, deps Deps) (*Federator, error) {
	if deps.Tokens == nil || deps.Hasher == nil || deps.Sealer == nil || deps.State == nil || deps.Redirects == nil {
		return nil, common.NewError(common.ErrConfiguration, "federator is missing a dependency")
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Federator{
		db:          db,
		repomanager: m,
		tokens:      deps.Tokens,
		hasher:      deps.Hasher,
		sealer:      deps.Sealer,
		state:       deps.State,
		redirects:   deps.Redirects,
		httpClient:  deps.HTTPClient,
		normalizers: defaultNormalizers(),
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("module", "oauth"),
	}, nil
}

// RegisterNormalizer installs n for providerKey, replacing any previous one.
func (f *Federator) RegisterNormalizer(providerKey string, n ProfileNormalizer) {
	f.normalizers[normalizeKey(providerKey)] = n
}

func (f *Federator) normalizer(key string) ProfileNormalizer {
	if n, ok := f.normalizers[key]; ok {
		return n
	}
	return GenericNormalizer
}

// StartResult is what the HTTP layer needs to redirect the browser.
type StartResult struct {
	AuthURL string
	State   string
}

// Start builds the authorization URL for providerKey. A non-empty
// redirectTarget must pass the redirect policy and is bound into the signed
// state.
func (f *Federator) Start(ctx context.Context, providerKey, redirectTarget string) (*StartResult, error) {
	key := normalizeKey(providerKey)
	p, err := f.resolveProvider(ctx, key)
	if err != nil {
		return nil, err
	}

	target, err := f.redirects.Resolve(redirectTarget)
	if err != nil {
		return nil, err
	}

	state, err := f.state.Encode(key, target)
	if err != nil {
		return nil, err
	}

	return &StartResult{AuthURL: oauthConfig(p).AuthCodeURL(state), State: state}, nil
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Provider string
	Code     string
	State    string
	Error    string
}

// CallbackResult is the session produced by a successful callback.
type CallbackResult struct {
	Account *models.Account
	Tokens  *auth.TokenPair
	// Created reports whether the account was provisioned by this callback.
	Created bool
	// RedirectTarget is the validated target bound into the state, if any.
	RedirectTarget string
}

// Callback completes the authorization-code flow. Account provisioning and
// the connection upsert happen in one transaction.
func (f *Federator) Callback(ctx context.Context, params CallbackParams) (res *CallbackResult, err error) {
	key := normalizeKey(params.Provider)

	ctx, span := tracer.Start(ctx, "oauth.Callback", trace.WithAttributes(attribute.String("oauth.provider", key)))
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, common.PublicMessage(err))
			f.logger.Warn(ctx, "oauth callback failed", "provider", key, "error", err)
		} else {
			span.SetAttributes(attribute.Bool("oauth.account_created", res.Created))
		}
		f.metrics.RecordOAuthCallback(key, outcome)
		span.End()
	}()

	if params.Error != "" {
		return nil, common.AuthError(nil, "provider returned an error: "+params.Error)
	}

	p, err := f.resolveProvider(ctx, key)
	if err != nil {
		return nil, err
	}

	var target string
	if params.State != "" {
		st, err := f.state.Decode(params.State, key)
		if err != nil {
			return nil, err
		}
		// re-check in case the allow-list changed since Start
		if target, err = f.redirects.Resolve(st.Redirect); err != nil {
			return nil, err
		}
	}

	if params.Code == "" {
		return nil, common.AuthError(common.ErrExchangeFailed, "missing authorization code")
	}

	token, err := f.exchange(ctx, p, params.Code)
	if err != nil {
		return nil, err
	}

	profile, raw, err := f.fetchProfile(ctx, p, token)
	if err != nil {
		return nil, err
	}

	type provisioned struct {
		account *models.Account
		created bool
	}
	out, err := dbx.WithTxValue(ctx, f.db, nil, func(ctx context.Context, tx dbx.DBTX) (provisioned, error) {
		a, created, err := f.linkAccount(ctx, tx, p, profile, token, raw)
		return provisioned{a, created}, err
	})
	if err != nil {
		return nil, databaseError(err)
	}

	pair, err := f.tokens.Mint(out.account)
	if err != nil {
		return nil, err
	}

	f.logger.Info(ctx, "oauth login", "provider", key, "account_id", out.account.ID, "created", out.created)

	return &CallbackResult{
		Account:        out.account,
		Tokens:         pair,
		Created:        out.created,
		RedirectTarget: target,
	}, nil
}

// FrontendRedirectURL is where the HTTP layer should send the browser after a
// successful callback.
func (f *Federator) FrontendRedirectURL(res *CallbackResult) string {
	return f.redirects.FrontendURL(res.RedirectTarget, res.Tokens)
}

func (f *Federator) exchange(ctx context.Context, p *models.OAuthProvider, code string) (*oauth2.Token, error) {
	ctx, span := tracer.Start(ctx, "oauth.Exchange")
	defer span.End()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	token, err := oauthConfig(p).Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "code exchange failed")
		return nil, &common.Error{
			Kind:   common.ErrAuthentication,
			Reason: common.ErrExchangeFailed,
			Msg:    "failed to exchange authorization code",
			Err:    err,
		}
	}
	return token, nil
}

func (f *Federator) fetchProfile(ctx context.Context, p *models.OAuthProvider, token *oauth2.Token) (*Profile, []byte, error) {
	ctx, span := tracer.Start(ctx, "oauth.FetchProfile")
	defer span.End()

	fail := func(err error) (*Profile, []byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile request failed")
		return nil, nil, common.Wrap(common.ErrUnexpected, "failed to fetch provider profile", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	client := oauthConfig(p).Client(context.WithValue(ctx, oauth2.HTTPClient, f.httpClient), token)
	client.Timeout = f.httpClient.Timeout
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("profile endpoint returned %s", resp.Status))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return fail(err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return fail(fmt.Errorf("decode profile: %w", err))
	}

	profile, err := f.normalizer(p.Key).Normalize(p.Key, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile normalization failed")
		return nil, nil, err
	}
	return profile, raw, nil
}

// linkAccount finds or provisions the account for profile and upserts the
// connection. A known provider identity keeps its account even when the
// provider reports a different email; otherwise the account is matched by
// email. It must run inside a transaction.
func (f *Federator) linkAccount(ctx context.Context, tx dbx.DBTX, p *models.OAuthProvider, profile *Profile, token *oauth2.Token, raw []byte) (*models.Account, bool, error) {
	repo := f.repomanager.Accounts(tx)

	created := false
	a, err := f.connectedAccount(ctx, tx, p, profile)
	if errors.Is(err, common.ErrorNotFound) {
		a, err = repo.FindByEmail(ctx, profile.Email)
		if errors.Is(err, common.ErrorNotFound) {
			a, created, err = f.provisionAccount(ctx, repo, profile)
		}
	}
	if err != nil {
		return nil, false, err
	}

	if !created {
		if !a.Active {
			return nil, false, common.AuthError(nil, "account is inactive")
		}
		if err := repo.TouchLastLogin(ctx, a.ID); err != nil {
			return nil, false, err
		}
	}

	conn, err := f.connection(a, p, profile, token, raw)
	if err != nil {
		return nil, false, err
	}
	if _, err := f.repomanager.Connections(tx).Upsert(ctx, conn); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, false, common.Wrap(common.ErrAuthentication, "provider account is linked to another account", err)
		}
		return nil, false, err
	}

	return a, created, nil
}

// connectedAccount returns the account already linked to the provider
// identity in profile, or common.ErrorNotFound.
func (f *Federator) connectedAccount(ctx context.Context, tx dbx.DBTX, p *models.OAuthProvider, profile *Profile) (*models.Account, error) {
	conn, err := f.repomanager.Connections(tx).FindByProviderIdentity(ctx, p.ID, profile.ProviderUserID)
	if err != nil {
		return nil, err
	}
	return f.repomanager.Accounts(tx).FindByID(ctx, conn.AccountID)
}

// provisionAccount inserts a verified account for profile. If a concurrent
// callback created the same email first, that account is returned instead.
func (f *Federator) provisionAccount(ctx context.Context, repo accounts.Repository, profile *Profile) (*models.Account, bool, error) {
	password, err := common.MakeRandAlphanumeric(randomPasswordLen)
	if err != nil {
		return nil, false, common.Wrap(common.ErrorInternal, "internal error", err)
	}
	hash, err := f.hasher.Hash(password)
	if err != nil {
		return nil, false, err
	}

	base := usernameBase(profile.Email)
	for i := 0; i < maxUsernameAttempts; i++ {
		username := base
		if i > 0 {
			username = fmt.Sprintf("%s_%d", base, i)
		}

		a, ok, err := repo.CreateIfAbsent(ctx, &models.Account{
			Email:         profile.Email,
			Username:      username,
			PasswordHash:  hash,
			DisplayName:   optional(profile.DisplayName),
			AvatarURL:     profile.AvatarURL,
			Role:          models.RoleUser,
			EmailVerified: true,
			Active:        true,
		})
		if err != nil {
			return nil, false, err
		}
		if ok {
			return a, true, nil
		}

		// the conflict is either the email (someone else won) or the username
		existing, err := repo.FindByEmail(ctx, profile.Email)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, false, err
		}
	}

	return nil, false, common.NewError(common.ErrorInternal, "could not allocate a username")
}

func (f *Federator) connection(a *models.Account, p *models.OAuthProvider, profile *Profile, token *oauth2.Token, raw []byte) (*models.OAuthConnection, error) {
	access, err := f.sealer.SealOptional(token.AccessToken)
	if err != nil {
		return nil, common.Wrap(common.ErrorInternal, "internal error", err)
	}
	refresh, err := f.sealer.SealOptional(token.RefreshToken)
	if err != nil {
		return nil, common.Wrap(common.ErrorInternal, "internal error", err)
	}

	var expires *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry
		expires = &e
	}

	return &models.OAuthConnection{
		AccountID:      a.ID,
		ProviderID:     p.ID,
		ProviderUserID: profile.ProviderUserID,
		Email:          optional(profile.Email),
		DisplayName:    optional(profile.DisplayName),
		AvatarURL:      profile.AvatarURL,
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      expires,
		RawProfile:     raw,
	}, nil
}

func (f *Federator) resolveProvider(ctx context.Context, key string) (*models.OAuthProvider, error) {
	p, err := f.repomanager.Providers(f.db).FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.NewError(common.ErrorNotFound, "unknown oauth provider: "+key)
		}
		return nil, databaseError(err)
	}
	if !p.Active {
		return nil, common.NewError(common.ErrConfiguration, "oauth provider is not active: "+key)
	}
	if p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" || p.ProfileURL == "" || p.RedirectURL == "" {
		return nil, common.NewError(common.ErrConfiguration, "oauth provider is not fully configured: "+key)
	}
	return p, nil
}

func oauthConfig(p *models.OAuthProvider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
		RedirectURL: p.RedirectURL,
		Scopes:      strings.Fields(strings.ReplaceAll(p.Scope, ",", " ")),
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// usernameBase derives a valid username from the local part of email.
func usernameBase(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := usernameStrip.ReplaceAllString(local, "")
	if len(base) > 24 {
		base = base[:24]
	}
	switch {
	case base == "":
		base = "user"
	case len(base) < 3:
		base += "_user"
	}
	return base
}

func databaseError(err error) error {
	var e *common.Error
	if errors.As(err, &e) {
		return err
	}
	return common.Wrap(common.ErrDatabase, "database error", err)
}
