package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenType = "access"

var (
	// ErrSigningKeyTooShort indicates the configured HMAC key does not meet the minimum size.
	ErrSigningKeyTooShort = errors.New("jwt: signing key must be at least 32 bytes")
	// ErrTokenExpired indicates the token elapsed its validity window.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenMalformed indicates the token failed structural or signature validation.
	ErrTokenMalformed = errors.New("jwt: token malformed")
)

// AccessTokenClaims augments the registered claims with identity and RBAC context.
type AccessTokenClaims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenGenerator creates and parses HMAC-SHA256 signed access tokens.
type TokenGenerator struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenGenerator constructs a TokenGenerator with the supplied symmetric key.
func NewTokenGenerator(key []byte, issuer, audience string, ttl time.Duration) (*TokenGenerator, error) {
	if len(key) < 32 {
		return nil, ErrSigningKeyTooShort
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	generator := &TokenGenerator{
		key:      key,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}
	generator.now = func() time.Time { return time.Now().UTC() }
	return generator, nil
}

// WithClock overrides the generator clock for deterministic tests.
func (g *TokenGenerator) WithClock(clock func() time.Time) *TokenGenerator {
	if clock != nil {
		g.now = clock
	}
	return g
}

// Issue signs an access token embedding identity, role, and permission claims.
// The returned claims carry the generated jti and expiry.
func (g *TokenGenerator) Issue(userID, username, email string, roles, permissions []string) (string, *AccessTokenClaims, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("user id is required")
	}

	now := g.now()

	claimAudience := jwt.ClaimStrings{}
	if g.audience != "" {
		claimAudience = append(claimAudience, g.audience)
	}

	claims := &AccessTokenClaims{
		Username:    username,
		Email:       email,
		Roles:       roles,
		Permissions: permissions,
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    g.issuer,
			Audience:  claimAudience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	return signed, claims, nil
}

// Parse validates the signature, issuer, audience, and expiry of an access
// token and returns its claims. Tokens signed with anything other than an
// HMAC method are rejected, including alg=none.
func (g *TokenGenerator) Parse(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}

	claims := &AccessTokenClaims{}

	parserOptions := []jwt.ParserOption{jwt.WithTimeFunc(g.now)}
	if g.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(g.issuer))
	}
	if g.audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(g.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.key, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != accessTokenType {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// TTL returns the configured access token lifetime.
func (g *TokenGenerator) TTL() time.Duration {
	return g.ttl
}
