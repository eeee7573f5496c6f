package service

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
	"github.com/zwldarren/ai-hedge-fund-sub000/stream"
)

// Server exposes the runtime over HTTP.
type Server struct {
	runtime *Runtime
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewServer creates the HTTP surface for the runtime. metrics may be nil,
// in which case /metrics is not mounted.
func NewServer(rt *Runtime, metrics *metric.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runtime: rt, metrics: metrics, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /workflows/{id}", s.handleDeleteWorkflow)

	mux.HandleFunc("POST /workflows/{id}/open", s.handleOpenWorkflow)
	mux.HandleFunc("POST /workflows/{id}/run", s.handleRunFlow)
	mux.HandleFunc("POST /workflows/{id}/stop", s.handleStopFlow)
	mux.HandleFunc("GET /workflows/{id}/status", s.handleStatus)

	mux.HandleFunc("PUT /graph", s.handleSetGraph)
	mux.HandleFunc("POST /save", s.handleSaveNow)
	mux.HandleFunc("POST /undo", s.handleUndo)
	mux.HandleFunc("POST /redo", s.handleRedo)
	mux.HandleFunc("GET /notifications", s.handleNotifications)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.runtime.ListWorkflows(r.Context())
	if err != nil {
		s.logger.Error("listing workflows failed", "error", err)
		s.writeError(w, err)
		return
	}
	if workflows == nil {
		workflows = []*flowstore.Workflow{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf flowstore.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.runtime.CreateWorkflow(r.Context(), &wf); err != nil {
		s.logger.Error("creating workflow failed", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.runtime.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf flowstore.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if id := r.PathValue("id"); wf.ID != id {
		s.writeJSONError(w, "id mismatch", http.StatusBadRequest)
		return
	}

	if err := s.runtime.UpdateWorkflow(r.Context(), &wf); err != nil {
		s.logger.Error("updating workflow failed", "workflow", wf.ID, "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpenWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.runtime.LoadWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleRunFlow(w http.ResponseWriter, r *http.Request) {
	var req stream.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := s.runtime.RunFlow(r.Context(), id, req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.runtime.Status(id))
}

func (s *Server) handleStopFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.runtime.StopFlow(id)
	s.writeJSON(w, http.StatusOK, s.runtime.Status(id))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runtime.Status(r.PathValue("id")))
}

func (s *Server) handleSetGraph(w http.ResponseWriter, r *http.Request) {
	var g fallbackGraph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.runtime.SetGraph(g.Nodes, g.Edges, g.Viewport)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveNow(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.SaveNow(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"applied": s.runtime.Undo()})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"applied": s.runtime.Redo()})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes := s.runtime.Notifier().Recent()
	if notes == nil {
		notes = []Notification{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response and logs encoding errors
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding JSON response failed", "error", err)
	}
}

// writeJSONError writes an error response in JSON format
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.logger.Error("encoding error response failed", "error", err, "message", message)
	}
}

// writeError maps classified errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrWorkflowNotFound):
		s.writeJSONError(w, "workflow not found", http.StatusNotFound)
	case errors.Is(err, errors.ErrWorkflowExists):
		s.writeJSONError(w, "workflow already exists", http.StatusConflict)
	case errors.Is(err, errors.ErrVersionConflict):
		s.writeJSONError(w, "workflow was modified concurrently", http.StatusConflict)
	case errors.Is(err, errors.ErrRunActive):
		s.writeJSONError(w, "run already active", http.StatusConflict)
	case errors.IsInvalid(err):
		s.writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		s.writeJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
