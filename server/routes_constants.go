package server

// Route path constants
const (
	RouteIndex    = "/"
	RouteConnect  = "/connect"
	RouteCallback = "/callback"

	RouteAPIToken            = "/api/token"
	RouteAPITokenRefresh     = "/api/token/refresh"
	RouteAPITokenRevoke      = "/api/token/revoke"
	RouteAPITokenValidate    = "/api/token/validate"
	RouteAPITokenAutoRefresh = "/api/token/auto-refresh"
	RouteAPIUserInfo         = "/api/userinfo"
)
