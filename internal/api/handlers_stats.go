package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.LLM == nil || s.deps.LLM.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": s.deps.LLM.Provider().Name(),
		"model":    s.cfg.LLM.Model,
		"stats":    s.deps.LLM.Stats().Snapshot(),
	})
}
