package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intake-assistant/internal/apperr"
	"intake-assistant/internal/config"
)

func newTestIssuer(now time.Time) *Issuer {
	i := NewIssuer(config.AuthConfig{Secret: "test-secret", Issuer: "intake-test", TokenTTL: time.Hour})
	i.now = func() time.Time { return now }
	return i
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	i := newTestIssuer(now)

	token, err := i.Issue("u1", "vi_1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := i.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.SessionID != "vi_1" {
		t.Errorf("claims = %+v", claims)
	}

	tests := []struct {
		name  string
		parse func() error
	}{
		{"expired", func() error {
			late := newTestIssuer(now.Add(2 * time.Hour))
			_, err := late.Parse(token)
			return err
		}},
		{"wrong secret", func() error {
			other := NewIssuer(config.AuthConfig{Secret: "other", Issuer: "intake-test"})
			other.now = i.now
			_, err := other.Parse(token)
			return err
		}},
		{"wrong issuer", func() error {
			other := NewIssuer(config.AuthConfig{Secret: "test-secret", Issuer: "someone-else"})
			other.now = i.now
			_, err := other.Parse(token)
			return err
		}},
		{"garbage", func() error {
			_, err := i.Parse("not.a.token")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.parse(); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	i := newTestIssuer(time.Now())
	token, _ := i.Issue("u1", "vi_1")

	var seen *Claims
	handler := Middleware(i, func(w http.ResponseWriter, _ *http.Request, err error) {
		http.Error(w, err.Error(), apperr.From(err).HTTPStatus)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantClaims bool
	}{
		{"no header passes through", "", http.StatusNoContent, false},
		{"valid bearer", "Bearer " + token, http.StatusNoContent, true},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent, true},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, false},
		{"bad token", "Bearer nope", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if (seen != nil) != tt.wantClaims {
				t.Errorf("claims present = %v, want %v", seen != nil, tt.wantClaims)
			}
		})
	}
}

func TestRequireSessionAndUser(t *testing.T) {
	c := &Claims{SessionID: "vi_1"}
	c.Subject = "u1"
	ctx := WithClaims(context.Background(), c)

	if err := RequireSession(ctx, "vi_1"); err != nil {
		t.Errorf("matching session: %v", err)
	}
	if err := RequireSession(ctx, "vi_2"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("other session err = %v", err)
	}
	if err := RequireSession(context.Background(), "vi_1"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("no claims err = %v", err)
	}
	if err := RequireUser(ctx, "u1"); err != nil {
		t.Errorf("matching user: %v", err)
	}
	if err := RequireUser(ctx, "u2"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("other user err = %v", err)
	}
}
