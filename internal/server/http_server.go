package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smukkama/awair-bridge/internal/alarming"
	"github.com/smukkama/awair-bridge/internal/awair"
	"github.com/smukkama/awair-bridge/internal/bridge"
	"github.com/smukkama/awair-bridge/internal/device"
	"github.com/smukkama/awair-bridge/internal/protocol"
	"github.com/smukkama/awair-bridge/internal/quota"
	"github.com/smukkama/awair-bridge/internal/timer"
)

// Controller is the bridge surface exposed over HTTP
type Controller interface {
	Registry() *device.Registry
	Arena() *alarming.Arena
	Policy() quota.PollingPolicy
	Quota() quota.AccountQuota
	SchedulerStats() timer.Stats
	ChangeDisplayMode(ctx context.Context, serial, mode string) (bridge.Ack, error)
	ChangeLEDMode(ctx context.Context, serial, mode string, brightness int) (bridge.Ack, error)
	ResetOccupancy(ctx context.Context, serial string) error
}

// StateReader returns the latest published value of every characteristic of a device
type StateReader interface {
	Device(serial string) map[protocol.Characteristic]protocol.Update
}

// HTTPServer serves device status, mode commands and Prometheus metrics
type HTTPServer struct {
	port     int
	ctrl     Controller
	state    StateReader
	router   *mux.Router
	srv      *http.Server
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	started  time.Time
	wg       sync.WaitGroup
}

// NewHTTPServer creates the server. Request metrics are registered with reg
// and /metrics serves gatherer; either may be nil.
func NewHTTPServer(port int, ctrl Controller, reg prometheus.Registerer, gatherer prometheus.Gatherer) *HTTPServer {
	s := &HTTPServer{
		port:   port,
		ctrl:   ctrl,
		router: mux.NewRouter(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "awair_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "awair_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		started: time.Now(),
	}
	if reg != nil {
		reg.MustRegister(s.requests, s.duration)
	}

	s.setupRoutes(gatherer)
	return s
}

func (s *HTTPServer) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(s.instrument)

	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/policy", s.policyHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/devices", s.listDevicesHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{serial}", s.getDeviceHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{serial}/display", s.displayHandler).Methods(http.MethodPut)
	s.router.HandleFunc("/devices/{serial}/led", s.ledHandler).Methods(http.MethodPut)
	s.router.HandleFunc("/devices/{serial}/occupancy/reset", s.resetOccupancyHandler).Methods(http.MethodPost)

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// WithState makes GET /devices/{serial} include the latest characteristic values
func (s *HTTPServer) WithState(state StateReader) *HTTPServer {
	s.state = state
	return s
}

// Handler returns the router, for tests and embedding
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts listening in the background
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.srv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	fmt.Printf("HTTP server listening on %s\n", addr)
	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.srv.SetKeepAlivesEnabled(false)
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	fmt.Println("HTTP server stopped")
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tmpl, err := m.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.ctrl.SchedulerStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"devices":         s.ctrl.Registry().Count(),
		"scheduled_tasks": stats.ScheduledTasks,
		"polls_fired":     stats.Fired,
	})
}

func (s *HTTPServer) policyHandler(w http.ResponseWriter, r *http.Request) {
	p := s.ctrl.Policy()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint":         p.Endpoint,
		"limit":            p.Limit,
		"interval_seconds": p.Interval.Seconds(),
		"quota":            s.ctrl.Quota(),
	})
}

func (s *HTTPServer) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.Registry().All()
	statuses := make([]device.Status, 0, len(devices))
	for _, t := range devices {
		statuses = append(statuses, t.Status())
	}
	writeJSON(w, http.StatusOK, statuses)
}

type deviceResponse struct {
	device.Status
	Alerts          map[alarming.Metric]bool                    `json:"alerts"`
	Occupancy       *alarming.Calibration                       `json:"occupancy,omitempty"`
	Characteristics map[protocol.Characteristic]protocol.Update `json:"characteristics,omitempty"`
}

func (s *HTTPServer) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	t, ok := s.ctrl.Registry().Get(serial)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", bridge.ErrUnknownDevice, serial))
		return
	}

	resp := deviceResponse{Status: t.Status(), Alerts: make(map[alarming.Metric]bool)}
	if state, ok := s.ctrl.Arena().Snapshot(serial); ok {
		for m, machine := range state.Alerts {
			resp.Alerts[m] = machine.Detected
		}
		if t.Device.HasOccupancy() {
			occ := state.Occupancy
			resp.Occupancy = &occ
		}
	}
	if s.state != nil {
		resp.Characteristics = s.state.Device(serial)
	}
	writeJSON(w, http.StatusOK, resp)
}

type displayRequest struct {
	Mode string `json:"mode"`
}

func (s *HTTPServer) displayHandler(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ack, err := s.ctrl.ChangeDisplayMode(r.Context(), mux.Vars(r)["serial"], req.Mode)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

type ledRequest struct {
	Mode       string `json:"mode"`
	Brightness int    `json:"brightness"`
}

func (s *HTTPServer) ledHandler(w http.ResponseWriter, r *http.Request) {
	var req ledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ack, err := s.ctrl.ChangeLEDMode(r.Context(), mux.Vars(r)["serial"], req.Mode, req.Brightness)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *HTTPServer) resetOccupancyHandler(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]
	if err := s.ctrl.ResetOccupancy(r.Context(), serial); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"serial": serial, "status": "reset"})
}

// statusFor maps bridge errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, awair.ErrInvalidMode), errors.Is(err, awair.ErrInvalidBrightness):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrUnsupported), errors.Is(err, bridge.ErrModesDisabled):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
