// Package api provides the HTTP surface of the predictive cache: page
// serving plus a small JSON control and introspection API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/precache/precache/internal/cache"
	"github.com/precache/precache/pkg/errors"
	"github.com/precache/precache/pkg/types"
	"github.com/precache/precache/pkg/utils"
)

// Server serves pages through the cache engine and exposes the control API
type Server struct {
	httpServer *http.Server
	engine     *cache.Engine
	config     ServerConfig
	logger     *utils.Logger
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// NewServer creates a new API server fronting the given engine
func NewServer(config ServerConfig, engine *cache.Engine, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	s := &Server{
		engine: engine,
		config: config,
		logger: logger.WithComponent("api"),
	}

	mux := http.NewServeMux()

	// Page serving
	mux.HandleFunc("/pages/", s.handlePage)

	// Introspection
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/predictions", s.handlePredictions)
	mux.HandleFunc("/api/v1/patterns/top", s.handleTopPatterns)

	// Control
	mux.HandleFunc("/api/v1/events/served", s.handleServedEvent)
	mux.HandleFunc("/api/v1/invalidate", s.handleInvalidate)
	mux.HandleFunc("/api/v1/learning", s.handleLearning)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/info", s.handleInfo)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server on %s", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// handlePage serves GET /pages/{id} through the cache. The X-Client-ID
// header ties requests into a navigation session; absent, a fresh ID is
// assigned and echoed back so the client can keep it.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	page, err := parsePageID(strings.TrimPrefix(r.URL.Path, "/pages/"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid page ID")
		return
	}

	clientID := r.Header.Get("X-Client-ID")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	content, hit, err := s.engine.ServePage(r.Context(), clientID, page, time.Now())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	w.Header().Set("X-Client-ID", clientID)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if content.ContentType != "" {
		w.Header().Set("Content-Type", content.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content.Body); err != nil {
		s.logger.Warn("Failed to write page body: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"engine":    s.engine.Stats(),
		"store":     s.engine.StoreStats(),
		"patterns":  s.engine.PatternStats(),
		"timestamp": time.Now(),
	})
}

// handlePredictions serves GET /api/v1/predictions?page=N with the learner's
// unfiltered view of the page's likely successors.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	page, err := parsePageID(r.URL.Query().Get("page"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid or missing page parameter")
		return
	}

	predictions := s.engine.PredictionsWithConfidence(page)
	if predictions == nil {
		predictions = []types.Prediction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"page":        page,
		"predictions": predictions,
	})
}

func (s *Server) handleTopPatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 10
	if val := r.URL.Query().Get("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	transitions := s.engine.TopTransitions(limit)
	if transitions == nil {
		transitions = []types.TransitionCount{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"transitions": transitions,
		"count":       len(transitions),
		"limit":       limit,
	})
}

// handleServedEvent ingests externally observed navigation, feeding the
// learner without serving content. Accepted events return 202.
func (s *Server) handleServedEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var event struct {
		ClientID string       `json:"client_id"`
		FromPage types.PageID `json:"from_page"`
		ToPage   types.PageID `json:"to_page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if event.ClientID == "" {
		s.respondError(w, http.StatusBadRequest, "client_id is required")
		return
	}
	if !event.ToPage.Valid() {
		s.respondError(w, http.StatusBadRequest, "to_page must be a valid page")
		return
	}

	s.engine.OnPageServed(r.Context(), event.ClientID, event.FromPage, event.ToPage, time.Now())
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Page types.PageID `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Page.Valid() {
		s.respondError(w, http.StatusBadRequest, "page must be a valid page")
		return
	}

	removed := s.engine.Invalidate(req.Page)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"page":    req.Page,
		"removed": removed,
	})
}

func (s *Server) handleLearning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.respondError(w, http.StatusBadRequest, "Body must carry an enabled flag")
		return
	}

	s.engine.SetLearning(*req.Enabled)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"learning": *req.Enabled,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "precache API",
		"timestamp": time.Now(),
		"endpoints": []string{
			"/pages/{id}",
			"/api/v1/stats",
			"/api/v1/predictions",
			"/api/v1/patterns/top",
			"/api/v1/events/served",
			"/api/v1/invalidate",
			"/api/v1/learning",
			"/health",
			"/info",
		},
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("%s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Client-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func parsePageID(raw string) (types.PageID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return types.NoPage, err
	}
	return types.PageID(n), nil
}

// respondEngineError maps engine error codes onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsCode(err, errors.ErrCodeValidationFailed):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.IsCode(err, errors.ErrCodeOriginUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
