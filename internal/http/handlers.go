package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"intake-assistant/internal/apperr"
	"intake-assistant/internal/auth"
	"intake-assistant/internal/config"
	"intake-assistant/internal/core"
	"intake-assistant/internal/db"
	"intake-assistant/internal/metrics"
	"intake-assistant/pkg"
)

const maxBodyBytes = 1 << 20

// Checker is a dependency pinged by the readiness endpoint.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Chat   *core.ChatService
	Events *db.Broker
	Checks map[string]Checker

	auth      *auth.Issuer
	authOn    bool
	timeout   time.Duration
	rateLimit config.RateLimitConfig
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewServer constructs a Server. issuer may be nil when auth is disabled.
func NewServer(chat *core.ChatService, events *db.Broker, checks map[string]Checker, issuer *auth.Issuer, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		Chat:      chat,
		Events:    events,
		Checks:    checks,
		auth:      issuer,
		authOn:    cfg.Auth.Enabled && issuer != nil,
		timeout:   cfg.Server.RequestTimeout,
		rateLimit: cfg.RateLimit,
		heartbeat: 25 * time.Second,
		logger:    logger.Named("http"),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	limiter := NewIPRateLimiter(s.rateLimit.RPS, s.rateLimit.Burst)
	r.Route("/api/medical", func(r chi.Router) {
		r.Use(limiter.Middleware)
		if s.auth != nil {
			r.Use(auth.Middleware(s.auth, s.writeError))
		}

		// streams outlive the request timeout
		r.Get("/session/{id}/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			if s.timeout > 0 {
				r.Use(middleware.Timeout(s.timeout))
			}
			r.Post("/chat", s.handleChat)
			r.Route("/session/{id}", func(r chi.Router) {
				r.Get("/status", s.handleStatus)
				r.Get("/summary", s.handleSummary)
				r.Get("/insights", s.handleInsights)
				r.Get("/conversations", s.handleConversations)
				r.Get("/completeness", s.handleCompleteness)
				r.Get("/timeout", s.handleTimeout)
				r.Post("/skip", s.handleSkip)
				r.Post("/handoff", s.handleHandoff)
			})
			r.Get("/user/{userID}/sessions", s.handleUserSessions)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	status := http.StatusOK
	checks := make(map[string]string, len(s.Checks))
	for name, c := range s.Checks {
		if err := c.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.BadRequest("invalid JSON body")
	}
	return nil
}

func (s *Server) authorizeSession(r *http.Request, sessionID string) error {
	if !s.authOn {
		return nil
	}
	return auth.RequireSession(r.Context(), sessionID)
}

// authorizeNewSession lets anyone start a first session for a new user id.
// A user who already has sessions must present one of their tokens, so a
// token for an existing user cannot be minted by naming them.
func (s *Server) authorizeNewSession(r *http.Request, userID string) error {
	userID = strings.TrimSpace(userID)
	if !s.authOn || userID == "" {
		return nil
	}
	known, err := s.Chat.HasSessions(r.Context(), userID)
	if err != nil || !known {
		return err
	}
	return auth.RequireUser(r.Context(), userID)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pkg.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SessionID != "" {
		if err := s.authorizeSession(r, req.SessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if err := s.authorizeNewSession(r, req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.Chat.Reply(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionHandler resolves and authorizes the {id} parameter before calling fn.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (any, error)) {
	id := chi.URLParam(r, "id")
	if err := s.authorizeSession(r, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := fn(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.Status(ctx, id)
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.Summary(ctx, id)
	})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, apperr.BadRequest("refresh must be a boolean"))
			return
		}
		refresh = b
	}
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.Insights(ctx, id, refresh)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.CompletedConversations(ctx, id)
	})
}

func (s *Server) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.Completeness(ctx, id)
	})
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.CheckTimeout(ctx, id)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.SkipQuestion(ctx, id, req.Reason)
	})
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sessionHandler(w, r, func(ctx context.Context, id string) (any, error) {
		return s.Chat.RequestHandoff(ctx, id, req.Reason)
	})
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if s.authOn {
		if err := auth.RequireUser(r.Context(), userID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	v, err := s.Chat.UserSessions(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
