package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/pkg/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

// TokenStatus describes the current token without exposing any secret.
type TokenStatus struct {
	State                 string     `json:"state"`
	RealmID               string     `json:"realmId,omitempty"`
	TokenType             string     `json:"tokenType,omitempty"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiryDate,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiryDate,omitempty"`
	AutoRefresh           bool       `json:"autoRefresh"`
	CompanyURL            string     `json:"companyUrl,omitempty"`
	Subject               string     `json:"subject,omitempty"`
	IDTokenVerified       bool       `json:"idTokenVerified,omitempty"`
	SavedAt               *time.Time `json:"savedAt,omitempty"`
}

func (s *Server) tokenStatus(t *token.Token) TokenStatus {
	status := TokenStatus{
		State:       t.State(s.nowFunc()).String(),
		AutoRefresh: s.manager.AutoRefresh(),
	}
	if t == nil {
		return status
	}

	accessExp, refreshExp := t.AccessTokenExpiresAt, t.RefreshTokenExpiresAt
	status.RealmID = t.RealmID
	status.TokenType = string(t.TokenType)
	status.AccessTokenExpiresAt = &accessExp
	status.RefreshTokenExpiresAt = &refreshExp
	if s.apiBaseURL != "" && t.RealmID != "" {
		status.CompanyURL = t.CompanyURL(s.apiBaseURL)
	}
	if t.IDToken != nil {
		status.Subject = t.IDToken.Subject
		status.IDTokenVerified = t.IDToken.Verified
	}
	return status
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeTokenError maps lifecycle errors onto HTTP statuses: missing or dead
// credentials are 401, provider trouble is 502.
func (s *Server) writeTokenError(w http.ResponseWriter, err error) {
	statusCode, code := errorStatus(err)
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("error_code", code).Msg("token operation failed")
	}
	writeJSONError(w, code, err.Error(), statusCode)
}

func errorStatus(err error) (int, string) {
	var providerErr *token.ProviderError
	switch {
	case errors.Is(err, token.ErrNotAuthorized):
		return http.StatusUnauthorized, "not_authorized"
	case errors.Is(err, token.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "refresh_token_expired"
	case errors.Is(err, token.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, "provider_rejected"
	case errors.Is(err, token.ErrResponseUnparseable):
		return http.StatusBadGateway, "bad_provider_response"
	case errors.Is(err, token.ErrExchangeFailed), errors.Is(err, token.ErrRefreshFailed), errors.Is(err, token.ErrRevokeFailed):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
