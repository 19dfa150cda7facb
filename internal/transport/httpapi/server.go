// Package httpapi exposes the router over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Asker answers questions within sessions. *cyibot.Router implements it.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (*cyibot.Answer, error)
	Reset(ctx context.Context, sessionID string) error
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	SessionID string `json:"session_id" validate:"required,max=256"`
	Question  string `json:"question" validate:"required,max=4000"`
}

// AskResponse is the data of POST /v1/ask.
type AskResponse struct {
	TurnID    string                `json:"turn_id"`
	SessionID string                `json:"session_id"`
	Answer    string                `json:"answer"`
	State     cyibot.TurnState      `json:"state"`
	Filter    cyibot.MetadataFilter `json:"filter,omitempty"`
	Tools     []string              `json:"tools,omitempty"`
	Routing   cyibot.RoutingSource  `json:"routing"`
	// ErrorCode is set when the turn failed; Answer then holds the
	// user-facing notice.
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ErrorResponse is the body of rejected requests. Failed turns still
// answer with an AskResponse carrying ErrorCode.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse wraps response data.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// Server holds the HTTP handlers.
type Server struct {
	asker       Asker
	logger      *zap.Logger
	validate    *validator.Validate
	origins     []string
	timeout     time.Duration
	checks      map[string]Check
	maxBodySize int64
	jwtSecret   []byte
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithRequestTimeout bounds every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check Check) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// NewServer creates the HTTP server handlers for asker.
func NewServer(asker Asker, options ...Option) *Server {
	s := &Server{
		asker:       asker,
		logger:      zap.NewNop(),
		validate:    validator.New(),
		origins:     []string{"*"},
		timeout:     60 * time.Second,
		checks:      make(map[string]Check),
		maxBodySize: 64 << 10,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Routes configures all routes and middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/readyz", s.readiness)

	r.Route("/v1", func(r chi.Router) {
		if s.jwtSecret != nil {
			r.Use(s.requireAuth)
		}
		r.Post("/ask", s.ask)
		r.Post("/sessions/{id}/reset", s.reset)
	})
	return r
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object with session_id and question")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Question = strings.TrimSpace(req.Question)
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	answer, err := s.asker.Ask(r.Context(), req.SessionID, req.Question)
	if answer == nil {
		s.logger.Error("ask returned no answer", zap.String("session_id", req.SessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", cyibot.UserMessage(err))
		return
	}

	resp := AskResponse{
		TurnID:     answer.TurnID,
		SessionID:  answer.SessionID,
		Answer:     answer.Text,
		State:      answer.State,
		Filter:     answer.Filter,
		Tools:      answer.Tools,
		Routing:    answer.Routing,
		DurationMS: answer.Duration.Milliseconds(),
	}
	status := http.StatusOK
	if err != nil {
		resp.ErrorCode = errorCode(err)
		status = statusFor(err)
	}
	respondJSON(w, status, SuccessResponse{Data: resp})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}
	if err := s.asker.Reset(r.Context(), id); err != nil {
		s.logger.Error("session reset failed", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, errorCode(err), "session could not be reset")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: map[string]string{"session_id": id, "status": "reset"}})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ready"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status = "not_ready"
			checks[name] = "unhealthy"
			s.logger.Error("readiness check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		checks[name] = "healthy"
	}

	code := http.StatusOK
	if status != "ready" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func errorCode(err error) string {
	var e *cyibot.Error
	if errors.As(err, &e) {
		return strings.ToLower(e.Code)
	}
	return "internal_error"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cyibot.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, cyibot.ErrRetrieval), errors.Is(err, cyibot.ErrQuery), errors.Is(err, cyibot.ErrSynthesis):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, err string, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: err, Message: message})
}

func respondValidationError(w http.ResponseWriter, err error) {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = "failed '" + fe.Tag() + "' check"
		}
	}
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_failed",
		Message: "request validation failed",
		Details: details,
	})
}
