// Package server runs the daemon surface: an HTTP API for triggering and
// inspecting billing cycles, per-installation cron schedules, and the
// Prometheus scrape endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Feberdin/ha-wallbox-billing/internal/billing"
	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/internal/metrics"
	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// Server hosts the HTTP API and the invoice schedules
type Server struct {
	engine *billing.Engine
	log    *logrus.Logger

	mu   sync.RWMutex
	cfg  *config.Config
	cron *cron.Cron

	httpSrv *http.Server
}

// New creates a server for the given config snapshot
func New(cfg *config.Config, engine *billing.Engine, log *logrus.Logger) *Server {
	s := &Server{
		engine: engine,
		log:    log,
		cfg:    cfg,
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Server.GetListen(),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // a trigger waits for the full cycle
	}
	return s
}

// Start serves HTTP and starts the schedules until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.reschedule()

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("listen", s.httpSrv.Addr).Info("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	s.mu.Lock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// UpdateConfig replaces the active config snapshot and rebuilds schedules.
// Cycles already in flight keep the installation values they started with.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.reschedule()
}

func (s *Server) snapshot() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// reschedule rebuilds the cron table from the current config
func (s *Server) reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = cron.New()

	for _, inst := range s.cfg.Installations {
		if inst.Schedule == "" {
			continue
		}
		inst := inst
		_, err := s.cron.AddFunc(inst.Schedule, func() {
			s.log.WithField("installation", inst.ID).Info("scheduled billing cycle starting")
			if _, err := s.runCycle(context.Background(), inst); err != nil {
				s.log.WithError(err).WithField("installation", inst.ID).Error("scheduled billing cycle failed")
			}
		})
		if err != nil {
			s.log.WithError(err).WithField("installation", inst.ID).Error("invalid schedule, skipping")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"installation": inst.ID,
			"schedule":     inst.Schedule,
		}).Info("invoice schedule registered")
	}

	s.cron.Start()
}

// runCycle wraps the engine call with metrics
func (s *Server) runCycle(ctx context.Context, inst config.Installation) (models.CycleResult, error) {
	start := time.Now()
	res, err := s.engine.RunCycle(ctx, inst)
	metrics.ObserveCycle(inst.ID, billing.ResultLabel(err), time.Since(start))
	if err == nil {
		metrics.ObserveResult(inst.ID, res)
	}
	return res, err
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/installations", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/installations/{id}/invoice", s.handleTrigger).Methods(http.MethodPost)
	api.HandleFunc("/installations/{id}/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// requestLogger tags every request with an id and logs its outcome
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
		}).Debug("request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	cfg := s.snapshot()
	type instView struct {
		ID           string `json:"id"`
		OwnerName    string `json:"owner_name"`
		MeterNumber  string `json:"meter_number"`
		EnergySensor string `json:"energy_sensor"`
		Schedule     string `json:"schedule,omitempty"`
	}
	views := make([]instView, 0, len(cfg.Installations))
	for _, inst := range cfg.Installations {
		views = append(views, instView{
			ID:           inst.ID,
			OwnerName:    inst.OwnerName,
			MeterNumber:  inst.MeterNumber,
			EnergySensor: inst.EnergySensor,
			Schedule:     inst.Schedule,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleTrigger runs one billing cycle synchronously and reports the result
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	inst := s.snapshot().Installation(mux.Vars(r)["id"])
	if inst == nil {
		writeError(w, http.StatusNotFound, "unknown installation")
		return
	}

	// Reject instead of queueing: a second trigger while a cycle is in
	// flight would otherwise compute against the same stale baseline.
	if s.engine.InFlight(inst.ID) {
		writeError(w, http.StatusConflict, "billing cycle already in flight")
		return
	}

	res, err := s.runCycle(r.Context(), *inst)
	if err != nil {
		writeJSON(w, statusForCycleError(err), map[string]string{
			"error":  err.Error(),
			"result": billing.ResultLabel(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inst := s.snapshot().Installation(mux.Vars(r)["id"])
	if inst == nil {
		writeError(w, http.StatusNotFound, "unknown installation")
		return
	}

	st, err := s.engine.Status(r.Context(), *inst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// statusForCycleError maps the failure taxonomy onto HTTP statuses: failures
// of external collaborators surface as bad gateway, everything else as an
// internal error.
func statusForCycleError(err error) int {
	switch {
	case errors.Is(err, billing.ErrSourceUnavailable),
		errors.Is(err, billing.ErrInvalidReading),
		errors.Is(err, billing.ErrRenderFailure),
		errors.Is(err, billing.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
