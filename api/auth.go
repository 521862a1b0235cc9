package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultJWKSCacheTTL = 15 * time.Minute
)

var (
	errTokenRevoked       = errors.New("token has been revoked")
	errLocalTokensOff     = errors.New("local token signing is not configured")
	errJWKSNotConfigured  = errors.New("jwks not configured")
	errInvalidSigningAlgo = errors.New("invalid signing method")
	errAuthBackend        = errors.New("token revocation store unavailable")
)

// Identity is the verified caller behind a bearer token.
type Identity struct {
	ActorID   string
	TokenID   string
	ExpiresAt time.Time
}

// AuthConfig configures token issuance and verification.
type AuthConfig struct {
	// Secret signs and verifies local HS256 tokens.
	Secret string
	Issuer string
	TTL    time.Duration
	// JWKS verifies RS256 tokens from an external identity provider.
	JWKS        *keyfunc.JWKS
	Audience    string
	KeyCacheTTL time.Duration
}

// Auth issues local tokens and validates incoming JWTs.
type Auth struct {
	secret      []byte
	issuer      string
	audience    string
	ttl         time.Duration
	jwks        *keyfunc.JWKS
	revocations TokenRevoker

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. At least one of cfg.Secret and cfg.JWKS must be
// set. revocations may be nil, in which case logout is a no-op.
func NewAuth(cfg AuthConfig, revocations TokenRevoker) (*Auth, error) {
	if cfg.Secret == "" && cfg.JWKS == nil {
		return nil, errors.New("either a token secret or a JWKS is required")
	}
	a := &Auth{
		secret:      []byte(cfg.Secret),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		ttl:         cfg.TTL,
		jwks:        cfg.JWKS,
		revocations: revocations,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.ttl <= 0 {
		a.ttl = defaultTokenTTL
	}
	if a.keyCacheTTL <= 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	methods := make([]string, 0, 2)
	if len(a.secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if a.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods(methods))
	return a, nil
}

// Issue signs a local token for actorID.
func (a *Auth) Issue(actorID string) (string, error) {
	if len(a.secret) == 0 {
		return "", errLocalTokensOff
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		ID:        uuid.NewString(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IdentityFromAuthHeader verifies the bearer token in an Authorization
// header value.
func (a *Auth) IdentityFromAuthHeader(ctx context.Context, h string) (Identity, error) {
	if h == "" {
		return Identity{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return Identity{}, err
	}
	return a.IdentityFromToken(ctx, token)
}

// IdentityFromToken verifies a compact JWT.
func (a *Auth) IdentityFromToken(ctx context.Context, tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, a.keyForToken)
	if err != nil {
		return Identity{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid claims")
	}

	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Identity{}, errors.New("token expired")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return Identity{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return Identity{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, errors.New("missing sub")
	}
	id := Identity{ActorID: sub}
	id.TokenID, _ = claims["jti"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0)
	}

	if id.TokenID != "" && a.revocations != nil {
		revoked, err := a.revocations.IsRevoked(ctx, id.TokenID)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", errAuthBackend, err)
		}
		if revoked {
			return Identity{}, errTokenRevoked
		}
	}
	return id, nil
}

// Revoke invalidates the token behind id until it expires.
func (a *Auth) Revoke(ctx context.Context, id Identity) error {
	if a.revocations == nil || id.TokenID == "" {
		return nil
	}
	return a.revocations.Revoke(ctx, id.TokenID, id.ExpiresAt)
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(a.secret) == 0 {
			return nil, errInvalidSigningAlgo
		}
		return a.secret, nil
	case *jwt.SigningMethodRSA:
		return a.jwksKey(token)
	default:
		return nil, errInvalidSigningAlgo
	}
}

func (a *Auth) jwksKey(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errJWKSNotConfigured
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
