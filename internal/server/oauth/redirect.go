package oauth

import (
	"net/url"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/server/auth"
)

// RedirectPolicy decides which post-login targets may be honoured. Targets
// are either paths on the frontend or absolute URLs whose origin is the
// frontend's or one of the allowed origins.
type RedirectPolicy struct {
	frontend *url.URL
	origins  map[string]struct{}
}

func NewRedirectPolicy(frontendURL string, allowedOrigins []string) (*RedirectPolicy, error) {
	fe, err := url.Parse(frontendURL)
	if err != nil || fe.Scheme == "" || fe.Host == "" {
		return nil, common.NewError(common.ErrConfiguration, "frontend url must be absolute")
	}

	p := &RedirectPolicy{frontend: fe, origins: map[string]struct{}{origin(fe): {}}}
	for _, o := range allowedOrigins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, common.NewError(common.ErrConfiguration, "invalid allowed redirect origin: "+o)
		}
		p.origins[origin(u)] = struct{}{}
	}
	return p, nil
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Resolve returns the absolute URL for target, or "" for an empty target.
func (p *RedirectPolicy) Resolve(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", nil
	}

	rejected := common.NewError(common.ErrValidation, "redirect target is not allowed")

	// protocol-relative and backslash tricks
	if strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "", rejected
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", rejected
	}
	if !u.IsAbs() {
		if !strings.HasPrefix(target, "/") {
			return "", rejected
		}
		return p.frontend.ResolveReference(u).String(), nil
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return "", rejected
	}
	if _, ok := p.origins[origin(u)]; !ok {
		return "", rejected
	}
	return u.String(), nil
}

// FrontendURL places tokens in the fragment of target, or of the frontend
// base URL when target is empty, so they never reach server logs.
func (p *RedirectPolicy) FrontendURL(target string, tokens *auth.TokenPair) string {
	base := target
	if base == "" {
		base = p.frontend.String()
	}
	base, _, _ = strings.Cut(base, "#")

	v := url.Values{}
	v.Set("access_token", tokens.AccessToken)
	v.Set("refresh_token", tokens.RefreshToken)
	v.Set("token_type", "Bearer")
	return base + "#" + v.Encode()
}
