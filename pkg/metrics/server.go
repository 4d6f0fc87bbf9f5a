package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/history"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

// HistoryStatus is the JSON body of /history.
type HistoryStatus struct {
	Points      []history.Point      `json:"points"`
	Rates       []float64            `json:"rates"`
	Collections []history.Collection `json:"collections"`
}

// Server serves /metrics, /healthz, /status and, when a tracker is set,
// /history.
type Server struct {
	collector *Collector
	history   history.Tracker
	log       logging.Logger
	srv       *http.Server
}

// NewServer creates a server listening on addr. tracker may be nil.
func NewServer(addr string, c *Collector, tracker history.Tracker, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{collector: c, history: tracker, log: log}
	s.srv = &http.Server{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      s.Router(),
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.collector.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	if s.history != nil {
		r.HandleFunc("/history", s.historyHandler).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.srv.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("status server listening on %s", ln.Addr())
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "status server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "status server shutdown")
	}
	return nil
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	report, ok := s.collector.Last()
	if !ok {
		http.Error(w, "no cycle finished yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, StatusFromReport(report))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, HistoryStatus{
		Points:      s.history.Points(),
		Rates:       s.history.Rates(),
		Collections: s.history.Collections(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("failed to encode response: %v", err)
	}
}
