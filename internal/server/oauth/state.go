package oauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/common"
)

// State is the payload carried through the provider round trip.
type State struct {
	Provider string `json:"p"`
	Redirect string `json:"r,omitempty"`
	Nonce    string `json:"n"`
	Expires  int64  `json:"x"`
}

// StateCodec signs and verifies state values of the form
// base64url(json) + "." + base64url(hmac-sha256).
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateCodec constructs a StateCodec signing with key; decoded states
// older than ttl are rejected.
func NewStateCodec(key []byte, ttl time.Duration) *StateCodec {
	return &StateCodec{key: key, ttl: ttl, now: time.Now}
}

func (c *StateCodec) Encode(provider, redirect string) (string, error) {
	nonce, err := common.MakeRandHexString(16)
	if err != nil {
		return "", common.Wrap(common.ErrorInternal, "internal error", err)
	}
	payload, err := json.Marshal(State{
		Provider: provider,
		Redirect: redirect,
		Nonce:    nonce,
		Expires:  c.now().Add(c.ttl).Unix(),
	})
	if err != nil {
		return "", common.Wrap(common.ErrorInternal, "internal error", err)
	}

	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

// Decode verifies signature, expiry and provider binding.
func (c *StateCodec) Decode(value, provider string) (*State, error) {
	body, sig, ok := strings.Cut(value, ".")
	if !ok {
		return nil, invalidState()
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.sign(body)) {
		return nil, invalidState()
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, invalidState()
	}
	var s State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, invalidState()
	}
	if s.Provider != provider || c.now().Unix() >= s.Expires {
		return nil, invalidState()
	}
	return &s, nil
}

func (c *StateCodec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func invalidState() error {
	return common.AuthError(common.ErrInvalidToken, "invalid oauth state")
}
