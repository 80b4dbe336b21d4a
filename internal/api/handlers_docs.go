package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docgraph/internal/pathstore"
)

// handleListDocuments lists the metadata of published graphs.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	pub := s.deps.Orchestrator.Publisher()
	if pub == nil {
		jsonError(w, "publishing is not configured", http.StatusNotImplemented)
		return
	}
	docs, err := pub.Documents(r.Context(), 200)
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusBadGateway)
		return
	}
	if docs == nil {
		docs = []pathstore.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument removes a published graph.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	pub := s.deps.Orchestrator.Publisher()
	if pub == nil {
		jsonError(w, "publishing is not configured", http.StatusNotImplemented)
		return
	}
	docID := chi.URLParam(r, "docID")
	err := pub.Delete(r.Context(), docID)
	switch {
	case errors.Is(err, pathstore.ErrNotFound):
		jsonError(w, "document not found", http.StatusNotFound)
	case err != nil:
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"deleted": docID})
	}
}
