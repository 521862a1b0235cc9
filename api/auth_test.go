package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

type memoryRevoker struct {
	revoked map[string]time.Time
}

func newMemoryRevoker() *memoryRevoker {
	return &memoryRevoker{revoked: make(map[string]time.Time)}
}

func (m *memoryRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	m.revoked[tokenID] = expiresAt
	return nil
}

func (m *memoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := m.revoked[tokenID]
	return ok, nil
}

func TestBearerTokenFromStringRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer ",
		"bearer a.b.c",
		"Bearer a.b",
		"Bearer " + strings.Repeat(".", 1000),
	} {
		if _, err := bearerTokenFromString(raw); err != errBadAuthorization {
			t.Fatalf("%q: expected bad auth header error, got %v", raw, err)
		}
	}
	if _, err := bearerTokenFromString("   "); err != errMissingAuthorization {
		t.Fatalf("expected missing header for blank value, got %v", err)
	}
	if token, err := bearerTokenFromString("  Bearer a.b.c  "); err != nil || token != "a.b.c" {
		t.Fatalf("expected surrounding spaces to be trimmed, got %q %v", token, err)
	}
}

func TestNewAuthRequiresKeys(t *testing.T) {
	if _, err := NewAuth(AuthConfig{}, nil); err == nil {
		t.Fatalf("expected error without secret or JWKS")
	}
}

func TestIssueAndVerify(t *testing.T) {
	revoker := newMemoryRevoker()
	auth, err := NewAuth(AuthConfig{Secret: "s3cret", Issuer: "approvals", Audience: "admin", TTL: time.Hour}, revoker)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	token, err := auth.Issue("actor-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := auth.IdentityFromAuthHeader(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ActorID != "actor-1" || id.TokenID == "" {
		t.Fatalf("unexpected identity: %#v", id)
	}
	if d := time.Until(id.ExpiresAt); d <= 50*time.Minute || d > time.Hour+time.Second {
		t.Fatalf("unexpected expiry %v", id.ExpiresAt)
	}

	if err := auth.Revoke(context.Background(), id); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := auth.IdentityFromAuthHeader(context.Background(), "Bearer "+token); err != errTokenRevoked {
		t.Fatalf("expected revoked token error, got %v", err)
	}
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	auth, err := NewAuth(AuthConfig{Secret: "s3cret", Issuer: "approvals"}, nil)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "actor-1",
			"iss": "approvals",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	expired := valid()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := valid()
	wrongIssuer["iss"] = "someone-else"
	noSub := valid()
	delete(noSub, "sub")
	noExp := valid()
	delete(noExp, "exp")

	cases := map[string]string{
		"expired":      signHS256(t, "s3cret", expired),
		"wrong issuer": signHS256(t, "s3cret", wrongIssuer),
		"missing sub":  signHS256(t, "s3cret", noSub),
		"missing exp":  signHS256(t, "s3cret", noExp),
		"wrong secret": signHS256(t, "other", valid()),
	}
	for name, token := range cases {
		if _, err := auth.IdentityFromToken(context.Background(), token); err == nil {
			t.Fatalf("%s: expected verification to fail", name)
		}
	}
	if _, err := auth.IdentityFromToken(context.Background(), signHS256(t, "s3cret", valid())); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestIssueWithoutSecret(t *testing.T) {
	auth := &Auth{}
	if _, err := auth.Issue("actor-1"); err != errLocalTokensOff {
		t.Fatalf("expected errLocalTokensOff, got %v", err)
	}
}

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *keyfunc.JWKS {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	body := fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":%q,"use":"sig","alg":"RS256","n":%q,"e":%q}]}`, kid, n, e)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	jwks, err := keyfunc.Get(srv.URL, keyfunc.Options{})
	if err != nil {
		t.Fatalf("jwks: %v", err)
	}
	return jwks
}

func TestVerifyRS256WithJWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := newJWKSServer(t, "key-1", &priv.PublicKey)
	auth, err := NewAuth(AuthConfig{JWKS: jwks, Audience: "api://admin", Issuer: "https://issuer/"}, nil)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}

	claims := jwt.MapClaims{
		"sub": "actor-9",
		"aud": "api://admin",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	id, err := auth.IdentityFromToken(context.Background(), signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ActorID != "actor-9" {
		t.Fatalf("unexpected actor %q", id.ActorID)
	}
	if _, ok := auth.keyCache.Load("key-1"); !ok {
		t.Fatalf("expected key to be cached")
	}

	claims["aud"] = "api://other"
	other := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	other.Header["kid"] = "key-1"
	signed, _ = other.SignedString(priv)
	if _, err := auth.IdentityFromToken(context.Background(), signed); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	if _, err := auth.Issue("actor-9"); err != errLocalTokensOff {
		t.Fatalf("JWKS-only auth must not issue tokens, got %v", err)
	}
	hs := signHS256(t, "anything", jwt.MapClaims{"sub": "x", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := auth.IdentityFromToken(context.Background(), hs); err == nil {
		t.Fatalf("HS256 tokens must be rejected without a secret")
	}
}
