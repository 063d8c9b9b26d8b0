package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/stock-sync/internal/database"
	enginesync "github.com/stock-sync/internal/sync"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/models"
)

// Server exposes the sync engine over HTTP: trigger runs, inspect
// progress, and read back synced data.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	mysqlDB      *database.MySQLClient
	orchestrator *enginesync.Orchestrator

	// One run at a time; the engine holds exclusive write windows.
	runMu      sync.Mutex
	running    bool
	lastReport *models.Report
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg *config.Config, logger *logrus.Logger, mysqlDB *database.MySQLClient, orchestrator *enginesync.Orchestrator) *Server {
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mysqlDB:      mysqlDB,
		orchestrator: orchestrator,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Sync control
	apiV1.HandleFunc("/sync", s.handleTriggerSync).Methods("POST")
	apiV1.HandleFunc("/sync/status", s.handleSyncStatus).Methods("GET")
	apiV1.HandleFunc("/sync/report", s.handleSyncReport).Methods("GET")

	// Synced data
	apiV1.HandleFunc("/stocks", s.handleGetStocks).Methods("GET")
	apiV1.HandleFunc("/stocks/{symbol}", s.handleGetStock).Methods("GET")
	apiV1.HandleFunc("/stocks/{symbol}/bars", s.handleGetBars).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	err := s.httpServer.ListenAndServe()
	if err != nil {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use", s.cfg.Server.Port)
		}
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(next)
}

// Handler functions

// handleHealth checks the health status of storage
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	mysqlHealthy := true
	if err := s.mysqlDB.Health(r.Context()); err != nil {
		status = "degraded"
		mysqlHealthy = false
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"services": map[string]bool{
			"mysql": mysqlHealthy,
		},
		"sync_running": s.isRunning(),
		"timestamp":    time.Now().Unix(),
	})
}

type triggerRequest struct {
	TargetDate  string   `json:"target_date,omitempty"`
	Symbols     []string `json:"symbols,omitempty"`
	Frequencies []string `json:"frequencies,omitempty"`
}

// handleTriggerSync starts a full sync run in the background. Only one
// run may be active at a time; a second trigger gets 409.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	opts := enginesync.Options{Symbols: req.Symbols, Frequencies: req.Frequencies}
	if req.TargetDate != "" {
		target, err := time.Parse(models.DateFormat, req.TargetDate)
		if err != nil {
			http.Error(w, "Invalid target_date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		opts.TargetDate = target
	}

	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		http.Error(w, "A sync run is already in progress", http.StatusConflict)
		return
	}
	s.running = true
	s.runMu.Unlock()

	go func() {
		defer func() {
			s.runMu.Lock()
			s.running = false
			s.runMu.Unlock()
		}()

		report, err := s.orchestrator.Run(context.Background(), opts)
		if err != nil {
			s.logger.WithError(err).Error("Triggered sync run failed")
		}

		s.runMu.Lock()
		s.lastReport = report
		s.runMu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
	})
}

// handleSyncStatus reports persisted per-entity progress counts and the
// most recent run summaries.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target := models.Day(time.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(models.DateFormat, raw)
		if err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		target = models.Day(parsed)
	}

	counts, err := s.mysqlDB.CountExtendedByStatus(ctx, models.SyncTypeExtended, target)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count sync statuses")
		http.Error(w, "Failed to retrieve sync status", http.StatusInternalServerError)
		return
	}

	summaries, err := s.mysqlDB.GetSummaries(ctx, 20)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get sync summaries")
		http.Error(w, "Failed to retrieve sync status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":      target.Format(models.DateFormat),
		"running":   s.isRunning(),
		"entities":  counts,
		"summaries": summaries,
	})
}

// handleSyncReport returns the report of the last in-process run.
func (s *Server) handleSyncReport(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	report := s.lastReport
	s.runMu.Unlock()

	if report == nil {
		http.Error(w, "No run has completed yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetStocks retrieves the stock universe
func (s *Server) handleGetStocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stocks, err := s.mysqlDB.GetActiveStocks(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get stocks")
		http.Error(w, "Failed to retrieve stocks", http.StatusInternalServerError)
		return
	}

	market := r.URL.Query().Get("market")
	if market != "" {
		filtered := make([]*models.Stock, 0, len(stocks))
		for _, stock := range stocks {
			if stock.Market == market {
				filtered = append(filtered, stock)
			}
		}
		stocks = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stocks": stocks,
		"count":  len(stocks),
	})
}

// handleGetStock retrieves details for a specific symbol
func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]

	stock, err := s.mysqlDB.GetStock(r.Context(), symbol)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get stock")
		http.Error(w, "Failed to retrieve stock", http.StatusInternalServerError)
		return
	}
	if stock == nil {
		http.Error(w, "Stock not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, stock)
}

// handleGetBars retrieves synced daily bars for a symbol
func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol := vars["symbol"]
	q := r.URL.Query()

	frequency := q.Get("frequency")
	if frequency == "" {
		frequency = "1d"
	}

	end := models.Day(time.Now())
	if raw := q.Get("end"); raw != "" {
		parsed, err := time.Parse(models.DateFormat, raw)
		if err != nil {
			http.Error(w, "Invalid end date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end = models.Day(parsed)
	}

	start := end.AddDate(0, 0, -30)
	if raw := q.Get("start"); raw != "" {
		parsed, err := time.Parse(models.DateFormat, raw)
		if err != nil {
			http.Error(w, "Invalid start date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start = models.Day(parsed)
	}

	bars, err := s.mysqlDB.GetBars(r.Context(), symbol, frequency, start, end)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get bars")
		http.Error(w, "Failed to retrieve bars", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"frequency": frequency,
		"bars":      bars,
		"count":     len(bars),
	})
}

func (s *Server) isRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
