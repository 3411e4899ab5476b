package server

import "net/http"

// requireAdmin gates admin transitions before any state is read. When no
// admin key is configured the check is disabled (local development, tests).
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AdminKey == "" {
		return true
	}
	if r.Header.Get("X-Admin-Key") != s.cfg.AdminKey {
		writeError(w, http.StatusUnauthorized, "admin key required")
		return false
	}
	return true
}
