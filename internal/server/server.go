// Package server implements the composer's control plane API: a stateless
// HTTP surface over the composition engine, the template catalog, the
// memory store, and the dispatcher.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/infinity-templates/composer/internal/catalog"
	"github.com/infinity-templates/composer/internal/dispatch"
	"github.com/infinity-templates/composer/internal/engine"
	"github.com/infinity-templates/composer/internal/faults"
	"github.com/infinity-templates/composer/internal/memstore"
	"github.com/infinity-templates/composer/internal/store"
)

const (
	serviceName          = "composer"
	defaultWorkQueueSize = 64
)

// Config parameterizes New. Every dependency is a read-only snapshot or a
// component already safe for concurrent use, matching the request-parallel,
// no-shared-mutable-state model.
type Config struct {
	Catalog        *catalog.Catalog
	Engine         engine.Engine
	Jobs           *store.Repo
	Memory         *memstore.Store
	Dispatcher     *dispatch.Dispatcher
	APIKey         string
	OutputRoot     string
	ComposeTimeout time.Duration
	WorkQueueSize  int
	Version        string
}

type apiErrorBody struct {
	Code            string         `json:"code"`
	Message         string         `json:"message"`
	Field           string         `json:"field,omitempty"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// apiError models the response envelope every error path returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Server wires the control plane's dependencies behind an http.Handler.
type Server struct {
	cfg     Config
	workSem chan struct{}
}

// New returns an http.Handler exposing the control plane API.
func New(cfg Config) (http.Handler, error) {
	if cfg.WorkQueueSize <= 0 {
		cfg.WorkQueueSize = defaultWorkQueueSize
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = 120 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	s := &Server{
		cfg:     cfg,
		workSem: make(chan struct{}, cfg.WorkQueueSize),
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if e, ok := passthroughAPIError(errs); ok {
			return e
		}
		return newAPIError(status, "", msg, "", "", nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		// A handler that already built a structured *apiError (field path,
		// suggested action, details) is passed straight through rather than
		// re-wrapped, so POST /compose and /discover's 4xx bodies keep their
		// field-level detail instead of collapsing into a generic "errors" list.
		if e, ok := passthroughAPIError(errs); ok {
			return e
		}
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, "", "", details)
	}

	router := chi.NewRouter()
	router.Use(s.authMiddleware)

	hcfg := huma.DefaultConfig("Composer API", cfg.Version)
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	registerHealth(api, s)
	registerDiscover(api, s)
	registerCompose(api, s)
	registerChat(api, s)

	return router, nil
}

// passthroughAPIError returns the first already-structured *apiError found
// among errs, if any, so huma's generic error-construction path doesn't
// discard a handler's field/suggested_action/details.
func passthroughAPIError(errs []error) (*apiError, bool) {
	for _, e := range errs {
		if ae, ok := e.(*apiError); ok {
			return ae, true
		}
	}
	return nil, false
}

func newAPIError(status int, code, message, field, suggestedAction string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:            code,
			Message:         message,
			Field:           field,
			SuggestedAction: suggestedAction,
			Details:         details,
		},
	}
}

// faultError translates a *faults.Fault into the API envelope, attaching
// the fault kind's suggested next action per spec.md §7.
func faultError(status int, err error) huma.StatusError {
	var f *faults.Fault
	if castErr, ok := err.(*faults.Fault); ok {
		f = castErr
	}
	if f == nil {
		return newAPIError(status, "", err.Error(), "", "", nil)
	}
	return newAPIError(status, string(f.Kind), f.Message, f.Field, f.Kind.SuggestedAction(), f.Details)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "overloaded"
	case http.StatusBadGateway:
		return "dispatch_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.TrimSpace(s.cfg.APIKey) == "" {
			next.ServeHTTP(w, r)
			return
		}
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := bearerToken(authz)
		if !ok || token != s.cfg.APIKey {
			respondError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", "", faults.Authentication.SuggestedAction(), nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func respondError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// acquireSlot implements the bounded per-process work queue fronting
// dispatcher-bound compose calls; a full queue reports 503 rather than
// queuing requests indefinitely.
func (s *Server) acquireSlot() (release func(), ok bool) {
	select {
	case s.workSem <- struct{}{}:
		return func() { <-s.workSem }, true
	default:
		return nil, false
	}
}

func registerHealth(api huma.API, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness and version check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:    "ok",
			Service:   serviceName,
			Version:   s.cfg.Version,
			Timestamp: time.Now().UTC(),
		}}, nil
	})
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
