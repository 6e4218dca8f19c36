package oauth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
)

// Profile is a provider profile reduced to the fields the core needs.
type Profile struct {
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      *string
	// Username is the provider-native handle, used for synthetic emails.
	Username string
}

// ProfileNormalizer turns a decoded profile document into a Profile.
type ProfileNormalizer interface {
	Normalize(providerKey string, doc map[string]any) (*Profile, error)
}

// NormalizerFunc adapts a function to ProfileNormalizer.
type NormalizerFunc func(providerKey string, doc map[string]any) (*Profile, error)

func (f NormalizerFunc) Normalize(providerKey string, doc map[string]any) (*Profile, error) {
	return f(providerKey, doc)
}

func defaultNormalizers() map[string]ProfileNormalizer {
	return map[string]ProfileNormalizer{
		"google": NormalizerFunc(normalizeGoogle),
		"github": NormalizerFunc(normalizeGitHub),
	}
}

// GenericNormalizer handles providers without a dedicated normalizer. It
// understands the common OpenID Connect userinfo claims.
var GenericNormalizer ProfileNormalizer = NormalizerFunc(normalizeGeneric)

func normalizeGoogle(key string, doc map[string]any) (*Profile, error) {
	p := &Profile{
		ProviderUserID: firstString(doc, "id", "sub"),
		Email:          firstString(doc, "email"),
		DisplayName:    firstString(doc, "name"),
		AvatarURL:      optional(firstString(doc, "picture")),
	}
	if p.DisplayName == "" {
		p.DisplayName = "Google User"
	}
	return finish(key, p)
}

func normalizeGitHub(key string, doc map[string]any) (*Profile, error) {
	login := firstString(doc, "login")
	p := &Profile{
		ProviderUserID: firstString(doc, "id"),
		Email:          firstString(doc, "email"),
		DisplayName:    firstString(doc, "name", "login"),
		AvatarURL:      optional(firstString(doc, "avatar_url")),
		Username:       login,
	}
	if p.DisplayName == "" {
		p.DisplayName = "GitHub User"
	}
	return finish(key, p)
}

func normalizeGeneric(key string, doc map[string]any) (*Profile, error) {
	p := &Profile{
		ProviderUserID: firstString(doc, "id", "sub", "user_id"),
		Email:          firstString(doc, "email"),
		DisplayName:    firstString(doc, "name", "preferred_username", "login", "username"),
		AvatarURL:      optional(firstString(doc, "picture", "avatar_url")),
		Username:       firstString(doc, "login", "preferred_username", "username", "nickname"),
	}
	return finish(key, p)
}

// finish applies the rules shared by every provider: an id is mandatory and a
// missing email becomes "<username>@<provider>.user".
func finish(key string, p *Profile) (*Profile, error) {
	if p.ProviderUserID == "" {
		return nil, common.NewError(common.ErrUnexpected, "provider profile has no user id")
	}
	if p.Email == "" {
		if p.Username == "" {
			return nil, common.NewError(common.ErrUnexpected, "provider profile has no email or username")
		}
		p.Email = fmt.Sprintf("%s@%s.user", p.Username, key)
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	return p, nil
}

// firstString returns the first non-empty value among keys. Numbers are
// rendered without exponent so numeric ids survive.
func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
