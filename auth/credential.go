package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Credential attaches provider credentials to an outbound request.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Apply must not mutate the request on failure.
type Credential interface {
	// Apply adds the credential to the request headers.
	Apply(req *http.Request) error
}

// Sentinel errors for credential construction and application.
var (
	// ErrEmptyKey is returned when an API key credential has no key.
	ErrEmptyKey = errors.New("auth: api key is empty")

	// ErrEmptySecret is returned when a bearer credential has no
	// signing secret.
	ErrEmptySecret = errors.New("auth: signing secret is empty")
)

// APIKey sends a static key in a configurable header. Most hosted node
// providers authenticate this way (or via the URL path, which needs no
// credential at all).
type APIKey struct {
	// Header is the header name carrying the key.
	// Default: "X-API-Key"
	Header string

	// Key is the provider-issued key.
	Key string
}

// NewAPIKey creates an API key credential.
func NewAPIKey(header, key string) (*APIKey, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	if header == "" {
		header = "X-API-Key"
	}
	return &APIKey{Header: header, Key: key}, nil
}

// Apply sets the API key header.
func (a *APIKey) Apply(req *http.Request) error {
	req.Header.Set(a.Header, a.Key)
	return nil
}

// BearerJWTConfig configures a BearerJWT credential.
type BearerJWTConfig struct {
	// Secret is the shared HMAC secret. Self-hosted nodes exposing an
	// authenticated RPC port (engine-API style) use a shared secret
	// with short-lived HS256 tokens.
	Secret []byte

	// TTL is the token lifetime. Tokens are minted fresh per request
	// when TTL is short, so clock skew stays bounded.
	// Default: 60 seconds
	TTL time.Duration

	// Issuer is set as the iss claim when non-empty.
	Issuer string

	// Clock supplies time for the iat/exp claims.
	// Default: clock.New() (wall clock)
	Clock clock.Clock
}

// BearerJWT mints a short-lived HS256 token per request and sends it as
// an Authorization bearer header.
type BearerJWT struct {
	config BearerJWTConfig
}

// NewBearerJWT creates a bearer JWT credential.
func NewBearerJWT(config BearerJWTConfig) (*BearerJWT, error) {
	if len(config.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	if config.TTL <= 0 {
		config.TTL = time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &BearerJWT{config: config}, nil
}

// Apply signs a fresh token and sets the Authorization header.
func (b *BearerJWT) Apply(req *http.Request) error {
	now := b.config.Clock.Now()

	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(b.config.TTL).Unix(),
	}
	if b.config.Issuer != "" {
		claims["iss"] = b.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(b.config.Secret)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

// None is a no-op credential for endpoints that embed the key in the
// URL or need no authentication.
type None struct{}

// Apply does nothing.
func (None) Apply(*http.Request) error { return nil }

// Ensure implementations satisfy Credential.
var (
	_ Credential = (*APIKey)(nil)
	_ Credential = (*BearerJWT)(nil)
	_ Credential = None{}
)
