package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tandem-dev/tandem/internal/bashmgr"
)

// shellRunnerAdapter bridges internal/bashmgr's spawn-and-return-immediately
// API to session.ShellRunner's blocking contract, used by the
// POST /session/{id}/shell convenience endpoint (a single-shot, wait-for-
// completion run rather than the interactive bash.execute RPC below).
type shellRunnerAdapter struct {
	mgr *bashmgr.Manager
}

func newShellRunnerAdapter(mgr *bashmgr.Manager) *shellRunnerAdapter {
	return &shellRunnerAdapter{mgr: mgr}
}

func (a *shellRunnerAdapter) Run(ctx context.Context, sessionID, command string, timeoutMS int) (string, int, string, error) {
	timeout := bashmgr.DefaultTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}

	p, err := a.mgr.Run(ctx, command, bashmgr.ExecuteOptions{
		SessionID: sessionID,
		Timeout:   timeout,
	})
	if err != nil {
		return "", 0, "", err
	}
	exitCode := 0
	if p.ExitCode != nil {
		exitCode = *p.ExitCode
	}
	return p.Stdout + p.Stderr, exitCode, p.Status, nil
}

// BashExecuteRequest is the request body for POST /bash.
type BashExecuteRequest struct {
	Command string `json:"command"`
	Mode    string `json:"mode,omitempty"` // "active" | "background", default "active"
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // milliseconds
}

// bashExecute handles POST /bash.
func (s *Server) bashExecute(w http.ResponseWriter, r *http.Request) {
	var req BashExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = "active"
	}

	id, err := s.bashManager.Execute(r.Context(), req.Command, bashmgr.ExecuteOptions{
		Mode:    mode,
		Cwd:     req.Cwd,
		Timeout: time.Duration(req.Timeout) * time.Millisecond,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// bashList handles GET /bash.
func (s *Server) bashList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bashManager.List())
}

// bashGet handles GET /bash/{bashID}.
func (s *Server) bashGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bashID")
	p, ok := s.bashManager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "bash process not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// bashKill handles POST /bash/{bashID}/kill.
func (s *Server) bashKill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bashID")
	writeJSON(w, http.StatusOK, map[string]any{"killed": s.bashManager.Kill(id)})
}

// bashDemote handles POST /bash/{bashID}/demote.
func (s *Server) bashDemote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bashID")
	writeJSON(w, http.StatusOK, map[string]any{"demoted": s.bashManager.Demote(id)})
}

// bashPromote handles POST /bash/{bashID}/promote.
func (s *Server) bashPromote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bashID")
	writeJSON(w, http.StatusOK, map[string]any{"promoted": s.bashManager.Promote(r.Context(), id)})
}

// bashGetActive handles GET /bash/active.
func (s *Server) bashGetActive(w http.ResponseWriter, r *http.Request) {
	p, ok := s.bashManager.GetActive()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": p})
}

// bashGetActiveQueueLength handles GET /bash/active/queue-length.
func (s *Server) bashGetActiveQueueLength(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"length": s.bashManager.GetActiveQueueLength()})
}
