// Package statusserver exposes an optional, local-only HTTP surface
// (GET /health, GET /progress) so an operator dashboard or external
// monitor can poll a long-running scrape. It reads the progress snapshot
// file and statecache database the orchestrator writes rather than
// sharing live Go objects with it, so one server instance started at
// program startup stays valid across the orchestrator's AUTH_BLOCKED
// restart attempts, each of which rebuilds its own state.Store and
// statecache.Index. It follows the teacher's cmd/captcha-server wiring:
// a chi.Router with the standard middleware stack, go-chi/cors,
// go-chi/httprate to absorb accidental poll storms, and huma.Register
// for typed operations — narrowed from the teacher's Clerk/feature-flag
// auth to a single shared-secret bearer check, since this surface has
// exactly one caller class (the operator), not a multi-tenant API.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jmylchreest/toastextract/internal/model"
	"github.com/jmylchreest/toastextract/internal/statecache"
	"github.com/jmylchreest/toastextract/internal/version"
)

// Config configures the status server. It reads the same on-disk
// artifacts the orchestrator writes (the progress snapshot file, and the
// statecache database if enabled) rather than sharing live Go objects
// with it, since the orchestrator rebuilds its state.Store and
// statecache.Index fresh on every AUTH_BLOCKED restart attempt — reading
// from disk means the status server's lifecycle is independent of that
// restart loop, the same way an external monitor would observe the run.
type Config struct {
	Addr           string
	SharedSecret   string
	RateLimitBurst int
	ProgressFile   string
	SessionDBPath  string
}

// Server wraps the status HTTP surface's net/http.Server and a read-only
// handle on the statecache database, if one is configured.
type Server struct {
	httpServer   *http.Server
	progressFile string
	cache        *statecache.Index
}

// HealthOutput is Huma's output wrapper for GET /health.
type HealthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ProgressOutput is Huma's output wrapper for GET /progress.
type ProgressOutput struct {
	Body ProgressResponse
}

// ProgressResponse reports the run's current progress, augmented with the
// statecache's errored-payment-ID list when the index is enabled.
type ProgressResponse struct {
	model.ProgressSnapshot
	ErroredPaymentIDs []string `json:"errored_payment_ids,omitempty"`
}

// New builds the status server's router and typed operations. cache is
// nilable, opened independently by the caller against cfg.SessionDBPath
// (via statecache.Open) when an errored-payment-ID list is wanted; a nil
// cache simply omits that field from the response.
func New(cfg Config, cache *statecache.Index) *Server {
	s := &Server{progressFile: cfg.ProgressFile, cache: cache}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))

	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	r.Use(httprate.LimitByIP(burst, time.Minute))

	if cfg.SharedSecret != "" {
		r.Use(bearerAuth(cfg.SharedSecret))
	}

	humaConfig := huma.DefaultConfig("Toast Extract Status", version.Get().Version)
	humaConfig.Info.Description = "Local progress/health surface for a running scrape"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		out := &HealthOutput{}
		out.Body.Status = "healthy"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "progress",
		Method:      http.MethodGet,
		Path:        "/progress",
		Summary:     "Run progress snapshot",
		Tags:        []string{"Progress"},
	}, func(ctx context.Context, input *struct{}) (*ProgressOutput, error) {
		resp, err := s.buildProgressResponse()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to build progress snapshot", err)
		}
		return &ProgressOutput{Body: resp}, nil
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// buildProgressResponse re-reads the progress snapshot file the
// orchestrator writes after each state-file save (Store.SaveProgress),
// rather than holding a live *state.Store shared with one orchestrator
// attempt. That file is the orchestrator's own source of truth for an
// external monitor, so reading it fresh per-request keeps this server
// correct across AUTH_BLOCKED restarts, which discard and rebuild the
// in-process Store on every attempt.
func (s *Server) buildProgressResponse() (ProgressResponse, error) {
	var resp ProgressResponse
	raw, err := os.ReadFile(s.progressFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		resp.ProgressSnapshot = model.ProgressSnapshot{UpdatedAt: time.Now().UTC()}
	case err != nil:
		return ProgressResponse{}, err
	default:
		if err := json.Unmarshal(raw, &resp.ProgressSnapshot); err != nil {
			return ProgressResponse{}, err
		}
	}

	if s.cache != nil {
		erroredRows, err := s.cache.Errored()
		if err != nil {
			return ProgressResponse{}, err
		}
		for _, row := range erroredRows {
			resp.ErroredPaymentIDs = append(resp.ErroredPaymentIDs, row.PaymentID)
		}
	}
	return resp, nil
}

// bearerAuth requires "Authorization: Bearer <secret>" on every request,
// the minimal shape of the teacher's signed-header/JWT auth narrowed to a
// single static credential.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, hasBearer := strings.CutPrefix(header, "Bearer ")
			if !hasBearer || token == "" || token != secret {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe starts the status server, blocking until it stops or
// errors. Returns nil on a clean Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the status server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
