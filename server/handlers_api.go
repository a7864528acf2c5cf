package server

import (
	"net/http"
	"strconv"
)

// TokenStatusHandler reports the current token without refreshing it, and
// when it was last saved if a store is configured.
func (s *Server) TokenStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, _ := s.manager.Current()
		status := s.tokenStatus(current)
		if s.persister != nil {
			if savedAt, ok := s.persister.SavedAt(r.Context()); ok {
				status.SavedAt = &savedAt
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.manager.Refresh(r.Context())
		if err != nil {
			s.writeTokenError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.tokenStatus(t))
	}
}

func (s *Server) RevokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.manager.Revoke(r.Context()); err != nil {
			s.writeTokenError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ValidateHandler reports whether the token is usable, refreshing it when
// auto-refresh is on.
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		valid, err := s.manager.ValidateToken(r.Context())
		if err != nil {
			s.writeTokenError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
	}
}

// AutoRefreshHandler switches auto-refresh with ?enabled=true|false.
func (s *Server) AutoRefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			writeJSONError(w, "invalid_request", "enabled must be true or false", http.StatusBadRequest)
			return
		}
		if enabled {
			s.manager.EnableAutoRefresh()
		} else {
			s.manager.DisableAutoRefresh()
		}
		s.logger.Info().Bool("auto_refresh", enabled).Msg("auto-refresh switched")
		writeJSON(w, http.StatusOK, map[string]bool{"autoRefresh": s.manager.AutoRefresh()})
	}
}

// UserInfoHandler fetches the connected user's profile from the provider.
func (s *Server) UserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := s.manager.FetchUserProfile(r.Context())
		if err != nil {
			s.writeTokenError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
