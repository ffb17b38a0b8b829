// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/chain"
	"github.com/arawrdn/fof-fulfillment-service/internal/charity"
	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// HTTPServer exposes the operational API: record lookups, claim
// transitions, charity snapshots and the watermark
type HTTPServer struct {
	config     *config.ServerConfig
	server     *http.Server
	router     *mux.Router
	store      storage.Store
	connection chain.Manager
	accountant *charity.Accountant
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *logrus.Logger
}

// NewHTTPServer creates the operational API server. connection and
// accountant may be nil when the corresponding surface is not wanted.
func NewHTTPServer(cfg *config.ServerConfig, store storage.Store, connection chain.Manager, accountant *charity.Accountant, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {
	s := &HTTPServer{
		config:     cfg,
		store:      store,
		connection: connection,
		accountant: accountant,
		metrics:    m,
		gatherer:   gatherer,
		logger:     utils.GetLogger(),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)

	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	}
	if s.config.EnableMetrics && s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/records", s.listRecordsHandler).Methods("GET")
	api.HandleFunc("/records/{tx}/{index}", s.getRecordHandler).Methods("GET")
	api.HandleFunc("/records/{tx}/{index}/transition", s.transitionHandler).Methods("POST")
	api.HandleFunc("/snapshots", s.listSnapshotsHandler).Methods("GET")
	api.HandleFunc("/snapshots", s.createSnapshotHandler).Methods("POST")
	api.HandleFunc("/watermark", s.watermarkHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
}

// Start begins serving; binding errors surface immediately
func (s *HTTPServer) Start() error {
	s.logger.WithField("address", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// statusWriter captures the response code for request metrics
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.
				WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).
				Observe(time.Since(start).Seconds())
		}

		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    sw.status,
			"duration":  time.Since(start),
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// healthHandler reports per-component health. A lost node connection is
// degraded, not unhealthy: the manager reconnects lazily and the store
// is still serving reads.
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	components := map[string]string{}

	if err := s.store.Ping(); err != nil {
		components["database"] = "unhealthy"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		components["database"] = "healthy"
	}

	if s.connection != nil {
		if s.connection.IsConnected() {
			components["node"] = "connected"
		} else {
			components["node"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// statsHandler exposes operational counters: connection statistics,
// the watermark and the ledger size
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	watermark, err := s.store.CurrentWatermark(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read watermark", err)
		return
	}

	count, err := s.store.CountRecords(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count records", err)
		return
	}

	body := map[string]interface{}{
		"watermark_block": watermark,
		"total_records":   count,
	}
	if s.connection != nil {
		body["connection"] = s.connection.Stats()
	}

	s.writeJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) listRecordsHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		s.writeError(w, http.StatusBadRequest, "status query parameter is required", nil)
		return
	}
	if !models.IsValidStatus(models.ClaimStatus(status)) {
		s.writeError(w, http.StatusBadRequest, "unknown status", nil)
		return
	}

	records, err := s.store.ListRecordsByStatus(r.Context(), models.ClaimStatus(status))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}
	if records == nil {
		records = []*models.FulfillmentRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *HTTPServer) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	txHash, logIndex, ok := s.recordKey(w, r)
	if !ok {
		return
	}

	record, err := s.store.GetRecord(r.Context(), txHash, logIndex)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get record", err)
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "Record not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) transitionHandler(w http.ResponseWriter, r *http.Request) {
	txHash, logIndex, ok := s.recordKey(w, r)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := s.store.TransitionRecord(r.Context(), txHash, logIndex, models.ClaimStatus(body.Status))
	if err != nil {
		switch {
		case utils.HasCode(err, utils.ErrCodeNotFound):
			s.writeError(w, http.StatusNotFound, "Record not found", err)
		case utils.HasCode(err, utils.ErrCodeInvalidTransition), utils.HasCode(err, utils.ErrCodeValidation):
			s.writeError(w, http.StatusConflict, "Transition not allowed", err)
		default:
			s.writeError(w, http.StatusInternalServerError, "Failed to transition record", err)
		}
		return
	}

	record, err := s.store.GetRecord(r.Context(), txHash, logIndex)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load record", err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) listSnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	snapshots, err := s.store.ListSnapshots(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}
	if snapshots == nil {
		snapshots = []*models.CharitySnapshot{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func (s *HTTPServer) createSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if s.accountant == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Charity accounting not configured", nil)
		return
	}

	snapshot, err := s.accountant.GenerateSnapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to generate snapshot", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, snapshot)
}

func (s *HTTPServer) watermarkHandler(w http.ResponseWriter, r *http.Request) {
	watermark, err := s.store.CurrentWatermark(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read watermark", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"block_number": watermark,
	})
}

// recordKey extracts and validates the event identity path variables
func (s *HTTPServer) recordKey(w http.ResponseWriter, r *http.Request) (string, uint, bool) {
	vars := mux.Vars(r)

	txHash := vars["tx"]
	if txHash == "" {
		s.writeError(w, http.StatusBadRequest, "Transaction hash is required", nil)
		return "", 0, false
	}

	logIndex, err := strconv.ParseUint(vars["index"], 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid log index", err)
		return "", 0, false
	}

	return txHash, uint(logIndex), true
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		body["details"] = err.Error()
	}
	s.writeJSON(w, status, body)
}
