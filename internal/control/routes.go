package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/task/scheduler"
)

const maxBody = 64 << 10

// Handler returns the routed, authenticated handler for the current config.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return s.handlerFor(cfg)
}

func (s *Server) handlerFor(cfg Config) http.Handler {
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /queue/status", auth(s.handleStatus))
	mux.HandleFunc("GET /queue/health", auth(s.handleHealth))
	mux.HandleFunc("GET /queue/runs", auth(s.handleRuns))
	mux.HandleFunc("POST /queue/trigger", auth(s.handleTrigger))
	mux.HandleFunc("POST /queue/toggle", auth(s.handleToggle))
	if cfg.Pprof {
		mountPprof(mux, auth)
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		writeError(w, http.StatusBadRequest, "job id is required", nil)
		return
	}
	res, err := s.svc.Trigger(WithActor(r.Context(), actorOf(r)), req.JobID, req.Wait)
	if err != nil {
		writeError(w, statusFor(err), "failed to trigger job", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.JobID) == "" || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "job id and enabled status are required", nil)
		return
	}
	if err := s.svc.SetEnabled(WithActor(r.Context(), actorOf(r)), req.JobID, *req.Enabled); err != nil {
		writeError(w, statusFor(err), "failed to toggle job", err)
		return
	}
	verb := "disabled"
	if *req.Enabled {
		verb = "enabled"
	}
	writeJSON(w, http.StatusOK, Message{Message: "job " + req.JobID + " " + verb})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	runs, err := s.svc.Runs(r.Context(), q.Get("job"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrJobAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// actorOf names the caller for the audit log.
func actorOf(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "http:" + r.RemoteAddr
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := ErrorBody{Error: msg}
	if err != nil {
		body.Message = err.Error()
	}
	writeJSON(w, status, body)
}
