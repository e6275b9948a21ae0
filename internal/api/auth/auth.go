package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload issued by the identity provider.
// The subject is the user id.
type Claims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens and turns them into callers
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a new Verifier. An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// Verify parses token and returns the caller it identifies
func (v *Verifier) Verify(token string) (domain.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return domain.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	caller := domain.Caller{
		UserID:    claims.Subject,
		CompanyID: claims.CompanyID,
		Role:      domain.Role(strings.ToLower(claims.Role)),
	}
	if caller.UserID == "" || caller.CompanyID == "" {
		return domain.Caller{}, fmt.Errorf("%w: sub and company_id are required", ErrInvalidToken)
	}
	switch caller.Role {
	case domain.RoleWorker, domain.RoleAdmin, domain.RoleOwner:
	default:
		return domain.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return caller, nil
}

// Sign issues a token for caller. Used by tooling and tests; production tokens come from the identity provider.
func (v *Verifier) Sign(caller domain.Caller, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		CompanyID: caller.CompanyID,
		Role:      string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
