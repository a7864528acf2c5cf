package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-qbo-auth/server/authflowrepo"
	"github.com/jrsteele09/go-qbo-auth/token"
)

// IndexHandler renders the home page
func (s *Server) IndexHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("index.html")
	if err != nil {
		panic("Failed to parse index template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		current, _ := s.manager.Current()
		status := s.tokenStatus(current)
		data := map[string]any{
			"AppName":   s.config.GetAppName(),
			"Connected": current != nil && current.State(s.nowFunc()) != token.UnauthenticatedExpired,
			"Status":    status,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			s.logger.Error().Err(err).Msg("index template failed")
		}
	}
}

// ConnectHandler starts the authorization code flow. The optional "return"
// query parameter is a local path to land on once the callback completes.
func (s *Server) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := s.nowFunc()
		if pruned := s.authState.Prune(now.Add(-s.config.GetStateMaxAge())); pruned > 0 {
			s.logger.Debug().Int("pruned", pruned).Msg("expired auth states removed")
		}

		state := uuid.NewString()
		authState := &authflowrepo.AuthFlowState{CreatedAt: now}
		if returnURL := r.URL.Query().Get("return"); isLocalPath(returnURL) {
			authState.ReturnURL = returnURL
		}
		if err := s.authState.Upsert(state, authState); err != nil {
			writeJSONError(w, "server_error", "could not start authorization", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, s.manager.AuthorizationURL(state), http.StatusFound)
	}
}

// CallbackHandler completes the flow: it checks the state, exchanges the code
// for the company named by realmId and saves the result.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errorParam := q.Get("error"); errorParam != "" {
			s.logger.Warn().Str("error", errorParam).Msg("authorization declined")
			writeJSONError(w, errorParam, "authorization failed: "+errorParam, http.StatusBadRequest)
			return
		}

		state, code, realmID := q.Get("state"), q.Get("code"), q.Get("realmId")
		if code == "" || state == "" {
			writeJSONError(w, "invalid_request", "missing code or state parameter", http.StatusBadRequest)
			return
		}

		authState, err := s.authState.Take(state)
		if err != nil {
			writeJSONError(w, "invalid_state", "unknown or already used state", http.StatusBadRequest)
			return
		}
		if s.nowFunc().Sub(authState.CreatedAt) > s.config.GetStateMaxAge() {
			writeJSONError(w, "invalid_state", "state has expired, connect again", http.StatusBadRequest)
			return
		}
		if realmID == "" {
			writeJSONError(w, "invalid_request", "missing realmId parameter", http.StatusBadRequest)
			return
		}

		t, err := s.manager.ExchangeCode(r.Context(), code, realmID)
		if err != nil {
			s.writeTokenError(w, err)
			return
		}
		if s.persister != nil {
			// The token is installed either way; a failed save only costs a restart.
			if err := s.persister.Save(r.Context(), t); err != nil {
				s.logger.Error().Err(err).Str("realm_id", realmID).Msg("token could not be saved")
			}
		}

		if authState.ReturnURL != "" {
			http.Redirect(w, r, authState.ReturnURL, http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, s.tokenStatus(t))
	}
}

// isLocalPath accepts paths on this host only, so the callback cannot be
// turned into an open redirect.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}
