package agentpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the payment-gated task lifecycle over HTTP.
type Server struct {
	orch     *Orchestrator
	verifier *Verifier
	mux      *http.ServeMux
	srv      *http.Server
	log      Logger
}

// NewServer builds the HTTP surface. gatherer may be nil to omit /metrics.
func NewServer(addr string, orch *Orchestrator, verifier *Verifier, gatherer prometheus.Gatherer, log Logger) *Server {
	s := &Server{
		orch:     orch,
		verifier: verifier,
		mux:      http.NewServeMux(),
		log:      orNoop(log),
	}
	s.mux.HandleFunc("POST /v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("POST /v1/tasks/{id}/verify", s.handleVerifyPayment)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /v1/balance", s.handleBalance)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.Infof("http api listening on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "description required"})
		return
	}
	_, payment, err := s.orch.CreateTask(r.Context(), req)
	if err != nil {
		s.log.Errorf("create task: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "task creation failed"})
		return
	}
	for k, v := range payment.Headers {
		w.Header().Set(k, v)
	}
	writeJSON(w, payment.StatusCode, payment.Body)
}

// verifyRequest is the POST /v1/tasks/{id}/verify payload.
type verifyRequest struct {
	TxHash string `json:"txHash"`
	Sender string `json:"sender,omitempty"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.TxHash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "txHash required"})
		return
	}
	resp := s.orch.ConfirmPayment(r.Context(), r.PathValue("id"), req.TxHash, req.Sender)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.TaskStatus(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrTaskNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "task_not_found"})
		return
	}
	if err != nil {
		s.log.Errorf("get task: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "task lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	var tasks []*Task
	var err error
	if sender := r.URL.Query().Get("sender"); sender != "" {
		tasks, err = s.orch.TasksBySender(r.Context(), sender, limit)
	} else {
		tasks, err = s.orch.RecentTasks(r.Context(), limit)
	}
	if err != nil {
		s.log.Errorf("list tasks: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "task listing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		s.log.Errorf("stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  s.verifier.Address(),
		"balance":  s.verifier.Balance(ctx),
		"currency": "USDC",
		"network":  s.verifier.Network().Name,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
