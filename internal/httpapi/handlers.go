package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matchbox-labs/sandboxd/internal/audit"
	"github.com/matchbox-labs/sandboxd/internal/sandbox"
)

func (s *Server) listSandboxes(w http.ResponseWriter, r *http.Request) {
	views := s.registry.List()
	if views == nil {
		views = []sandbox.View{}
	}
	respondJSON(w, http.StatusOK, ListSandboxesResponse{Sandboxes: views})
}

func (s *Server) createSandbox(w http.ResponseWriter, r *http.Request) {
	var req CreateSandboxRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, err)
			return
		}
	}

	view, err := s.registry.Create(r.Context(), sandbox.ProvideSandboxOptions{
		CodeDriveLocation: req.CodeDrivePath,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	s.audit(audit.EventCreated, view.ID, view.IP, "")
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) deleteSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := s.registry.Delete(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	s.audit(audit.EventDeleted, view.ID, view.IP, "")
	respondJSON(w, http.StatusOK, view)
}

// entrypointCommand and entrypointArguments are the fixed command every
// execute call runs in the guest: spec.md's HTTP surface takes no body
// for this route, unlike the guest-agent's own Execute(command,
// arguments[]) RPC.
const entrypointCommand = "python3"

var entrypointArguments = []string{"/tmp/vdb/entrypoint.py"}

func (s *Server) executeSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sb, err := s.registry.Get(id)
	if err != nil {
		respondError(w, err)
		return
	}

	output, err := sb.Execute(r.Context(), entrypointCommand, entrypointArguments)
	if err != nil {
		respondError(w, err)
		return
	}

	s.audit(audit.EventExecute, id, sb.IP(), entrypointCommand)
	respondJSON(w, http.StatusOK, ExecuteResponse{Output: output})
}
