// Package httpapi exposes the HTTP trigger for ads sync runs.
//
// Routes:
//
//	POST /sync-ads-insights → start a background run, answer 202 with its id
//	GET  /healthz           → liveness probe
//	GET  /last-run          → result of the most recent finished run
//
// One run at a time: while a run is in flight the trigger answers 409.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"adsync/internal/metrics"
	"adsync/internal/pipeline"
)

// SyncRunner is the slice of the pipeline the server drives.
type SyncRunner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.RunResult, error)
}

// Config controls server startup.
type Config struct {
	Addr string
}

// Server wraps an http.ServeMux with the trigger routes and the
// single-run-in-flight bookkeeping.
type Server struct {
	cfg    Config
	mux    *http.ServeMux
	runner SyncRunner

	inFlight atomic.Bool
	seq      atomic.Uint64

	mu   sync.RWMutex
	last *runRecord

	// now and afterRun are test seams.
	now      func() time.Time
	afterRun func()
}

// runRecord pairs a run id with its finished result.
type runRecord struct {
	RunID  string              `json:"run_id"`
	Result *pipeline.RunResult `json:"result"`
}

// NewServer constructs a Server with routes installed.
func NewServer(cfg Config, runner SyncRunner) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("httpapi: runner must not be nil")
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		runner: runner,
		now:    time.Now,
	}
	s.routes()
	return s, nil
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.cfg.Addr, s.mux)
}

// Handler returns the route mux, for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/sync-ads-insights", s.handleSync)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/last-run", s.handleLastRun)
}

// syncRequest is the optional trigger body. Zero values defer to the
// pipeline's defaults.
type syncRequest struct {
	Mode      string `json:"mode"`
	DaysBack  int    `json:"days_back"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DryRun    bool   `json:"dry_run"`
}

// handleSync starts one background run. The request is rejected up front
// when its options cannot produce a runnable pipeline, so callers learn
// about malformed triggers synchronously instead of via /last-run.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("use POST"))
		return
	}

	opts, err := s.parseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, errorBody("a sync run is already in flight"))
		return
	}

	id := fmt.Sprintf("run-%d-%s", s.seq.Add(1), s.now().UTC().Format("20060102150405"))
	go s.execute(id, opts)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": id,
		"status": "started",
	})
}

// execute owns the in-flight flag taken by handleSync.
func (s *Server) execute(id string, opts pipeline.Options) {
	defer func() {
		s.inFlight.Store(false)
		if s.afterRun != nil {
			s.afterRun()
		}
	}()

	log.Printf("httpapi: %s starting, mode=%s", id, opts.Mode)
	res, err := s.runner.Run(context.Background(), opts)
	if err != nil {
		log.Printf("httpapi: %s failed: %v", id, err)
	} else if res != nil {
		log.Printf("httpapi: %s finished, status=%s", id, res.Status)
	}

	if res != nil {
		s.mu.Lock()
		s.last = &runRecord{RunID: id, Result: res}
		s.mu.Unlock()
	}

	// Push per run so each trigger lands on the Pushgateway as soon as
	// it finishes.
	if err := metrics.Flush(); err != nil {
		log.Printf("httpapi: %s metrics flush: %v", id, err)
	}
}

// parseRequest decodes the optional JSON body into run options. An empty
// body means an incremental run with defaults.
func (s *Server) parseRequest(r *http.Request) (pipeline.Options, error) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return pipeline.Options{}, fmt.Errorf("bad request body: %v", err)
	}

	opts := pipeline.Options{
		Mode:     req.Mode,
		DaysBack: req.DaysBack,
		DryRun:   req.DryRun,
	}
	switch req.Mode {
	case "", pipeline.ModeFull, pipeline.ModeIncremental, pipeline.ModeDateRange, pipeline.ModeValidate:
	default:
		return opts, fmt.Errorf("unknown mode %q", req.Mode)
	}
	if req.Mode == pipeline.ModeDateRange && (req.StartDate == "" || req.EndDate == "") {
		return opts, fmt.Errorf("daterange mode needs start_date and end_date")
	}
	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return opts, fmt.Errorf("bad start_date: %v", err)
		}
		opts.Start = t
	}
	if req.EndDate != "" {
		t, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return opts, fmt.Errorf("bad end_date: %v", err)
		}
		opts.End = t
	}
	return opts, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLastRun reports the most recent finished run. A run still in
// flight is not visible here until it finishes.
func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("use GET"))
		return
	}

	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no run has finished yet"))
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
