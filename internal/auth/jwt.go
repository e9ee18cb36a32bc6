package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"intake-assistant/internal/apperr"
	"intake-assistant/internal/config"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// ErrInvalidToken is returned for malformed, expired or foreign tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims binds a token to one patient and one intake session.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer from the auth config.
func NewIssuer(cfg config.AuthConfig) *Issuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: ttl, now: time.Now}
}

// Issue returns a token for userID scoped to sessionID.
func (i *Issuer) Issue(userID, sessionID string) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware parses a bearer token when one is sent and stores its claims
// in the request context. Requests without a token pass through; handlers
// decide whether a token is required.
func Middleware(i *Issuer, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				onError(w, r, apperr.Unauthorized("invalid authorization header format"))
				return
			}
			claims, err := i.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				onError(w, r, apperr.Unauthorized("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, c)
}

// ClaimsFrom extracts the claims stored by Middleware.
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey).(*Claims)
	return c
}

// RequireSession fails unless the request carries a token for sessionID.
func RequireSession(ctx context.Context, sessionID string) error {
	c := ClaimsFrom(ctx)
	if c == nil {
		return apperr.Unauthorized("session token required")
	}
	if c.SessionID != sessionID {
		return apperr.Unauthorized("token does not grant access to this session")
	}
	return nil
}

// RequireUser fails unless the request carries a token issued to userID.
func RequireUser(ctx context.Context, userID string) error {
	c := ClaimsFrom(ctx)
	if c == nil {
		return apperr.Unauthorized("session token required")
	}
	if c.Subject != userID {
		return apperr.Unauthorized("token does not grant access to this user")
	}
	return nil
}
