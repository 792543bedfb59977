package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://node.example/rpc", nil)
	if err != nil {
		t.Fatalf("NewRequest error = %v", err)
	}
	return req
}

func TestNewAPIKey_EmptyKey(t *testing.T) {
	if _, err := NewAPIKey("X-API-Key", "  "); err != ErrEmptyKey {
		t.Errorf("NewAPIKey error = %v, want ErrEmptyKey", err)
	}
}

func TestAPIKey_Apply(t *testing.T) {
	cred, err := NewAPIKey("", "k-123")
	if err != nil {
		t.Fatalf("NewAPIKey error = %v", err)
	}

	req := newRequest(t)
	if err := cred.Apply(req); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	if got := req.Header.Get("X-API-Key"); got != "k-123" {
		t.Errorf("X-API-Key = %q, want %q", got, "k-123")
	}
}

func TestNewBearerJWT_EmptySecret(t *testing.T) {
	if _, err := NewBearerJWT(BearerJWTConfig{}); err != ErrEmptySecret {
		t.Errorf("NewBearerJWT error = %v, want ErrEmptySecret", err)
	}
}

func TestBearerJWT_Apply(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	secret := []byte("shared-secret")
	cred, err := NewBearerJWT(BearerJWTConfig{
		Secret: secret,
		TTL:    30 * time.Second,
		Issuer: "rpcpool",
		Clock:  mock,
	})
	if err != nil {
		t.Fatalf("NewBearerJWT error = %v", err)
	}

	req := newRequest(t)
	if err := cred.Apply(req); err != nil {
		t.Fatalf("Apply error = %v", err)
	}

	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("Authorization = %q, want Bearer prefix", header)
	}

	parsed, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(mock.Now))
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if got := claims["iss"]; got != "rpcpool" {
		t.Errorf("iss = %v, want rpcpool", got)
	}
	if got := int64(claims["exp"].(float64)); got != mock.Now().Add(30*time.Second).Unix() {
		t.Errorf("exp = %d, want %d", got, mock.Now().Add(30*time.Second).Unix())
	}
}

func TestNone_Apply(t *testing.T) {
	req := newRequest(t)
	if err := (None{}).Apply(req); err != nil {
		t.Errorf("Apply error = %v", err)
	}
	if len(req.Header) != 0 {
		t.Errorf("headers = %v, want none", req.Header)
	}
}
