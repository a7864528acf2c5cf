package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc(http.MethodGet, RouteIndex, ChainMiddleware(s.IndexHandler(), s.HTMLMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteConnect, ChainMiddleware(s.ConnectHandler(), s.HTMLMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteCallback, ChainMiddleware(s.CallbackHandler(), s.HTMLMiddleware()...))

	s.RegisterRouteFunc(http.MethodGet, RouteAPIToken, ChainMiddleware(s.TokenStatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAPITokenRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAPITokenRevoke, ChainMiddleware(s.RevokeHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAPITokenValidate, ChainMiddleware(s.ValidateHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodPost, RouteAPITokenAutoRefresh, ChainMiddleware(s.AutoRefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc(http.MethodGet, RouteAPIUserInfo, ChainMiddleware(s.UserInfoHandler(), s.APIMiddleware()...))

	// Preflight for browser clients of the API.
	s.router.PathPrefix("/api/").Methods(http.MethodOptions).HandlerFunc(ChainMiddleware(noContent, s.APIMiddleware()...))
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
