package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorUnwrap(t *testing.T) {
	err := NotFound("conversation", "vi_123")
	wrapped := fmt.Errorf("load: %w", err)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped error to match ErrNotFound")
	}
	if err.Details["id"] != "vi_123" {
		t.Errorf("expected id detail, got %v", err.Details)
	}
}

func TestFrom(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"app error kept", BadRequest("bad"), http.StatusBadRequest, "BAD_REQUEST"},
		{"wrapped app error", fmt.Errorf("x: %w", Conflict("closed", nil)), http.StatusConflict, "CONFLICT"},
		{"sentinel not found", fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"sentinel unavailable", fmt.Errorf("x: %w", ErrUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"wrapped unavailable", Wrap(Unavailable("database unavailable", errors.New("refused")), "load"), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			if got.HTTPStatus != tt.status {
				t.Errorf("status = %d, want %d", got.HTTPStatus, tt.status)
			}
			if got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
}

func TestWrapKeepsStatus(t *testing.T) {
	err := Wrap(NotFound("session", "a"), "status")
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("status = %d, want 404", err.HTTPStatus)
	}
	if err.Message != "status: session not found" {
		t.Errorf("message = %q", err.Message)
	}

	plain := Wrap(errors.New("db down"), "save")
	if plain.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", plain.HTTPStatus)
	}
}
