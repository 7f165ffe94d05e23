// Package admin exposes the daemon's operator surface over HTTP: the
// statistics summary, the persisted settings, and a manual verification
// trigger. It is the service equivalent of the original product's popup.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veritaslabs/aletheia/bus"
	"github.com/veritaslabs/aletheia/protocol"
	"github.com/veritaslabs/aletheia/shield"
	"github.com/veritaslabs/aletheia/stats"
)

// Server is the admin HTTP handler set.
type Server struct {
	store   *stats.Store
	bus     *bus.Bus
	logger  *slog.Logger
	limiter *shield.RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the admin Server.
func New(store *stats.Store, b *bus.Bus, opts ...Option) *Server {
	s := &Server{
		store:  store,
		bus:    b,
		logger: slog.Default(),
		limiter: shield.NewRateLimiter(
			shield.Rule{MaxRequests: 120, Window: time.Minute},
			shield.WithOverride("POST /api/verify", shield.Rule{MaxRequests: 30, Window: time.Minute}),
			shield.WithExclude("/healthz"),
		),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router for the admin surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxJSONBody(64 * 1024))
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Post("/verify", s.handleVerify)
	})
	return r
}

type statsResponse struct {
	ImagesChecked    int64  `json:"imagesChecked"`
	CredentialsFound int64  `json:"credentialsFound"`
	SuccessRate      string `json:"successRate"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Counters(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		ImagesChecked:    c.ImagesChecked,
		CredentialsFound: c.CredentialsFound,
		SuccessRate:      c.SuccessRate(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Settings(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg stats.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}
	if err := s.store.SetAutoVerify(r.Context(), cfg.AutoVerify); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.SetShowNoCredentials(r.Context(), cfg.ShowNoCredentials); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type verifyRequest struct {
	PageID   string `json:"pageId"`
	ImageURL string `json:"imageUrl"`
}

// handleVerify submits a verification request on behalf of a page, as if
// the user had asked for it in the page. The outcome travels the normal
// notification path to that page.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid verify payload", http.StatusBadRequest)
		return
	}
	if req.PageID == "" || req.ImageURL == "" {
		http.Error(w, "pageId and imageUrl are required", http.StatusBadRequest)
		return
	}
	err := s.bus.Submit(req.PageID, protocol.Message{
		Action:   protocol.ActionVerifyImageURL,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("admin: request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
