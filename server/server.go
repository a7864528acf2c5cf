package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-qbo-auth/internal/config"
	"github.com/jrsteele09/go-qbo-auth/server/authflowrepo"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/jrsteele09/go-qbo-auth/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server is the connect service: it walks a user through provider consent and
// exposes the resulting token's lifecycle over a small JSON API.
type Server struct {
	env        string
	router     *mux.Router
	routes     []string
	config     config.Config
	manager    *token.Manager
	persister  *tokenstore.Persister
	authState  authflowrepo.Repo
	apiBaseURL string
	logger     zerolog.Logger
	nowFunc    func() time.Time
}

type Option func(*Server)

// WithPersister saves tokens obtained through /callback.
func WithPersister(p *tokenstore.Persister) Option {
	return func(s *Server) {
		s.persister = p
	}
}

// WithAPIBaseURL sets the accounting API base reported in token status.
func WithAPIBaseURL(u string) Option {
	return func(s *Server) {
		s.apiBaseURL = u
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func New(cfg config.Config, manager *token.Manager, authStateRepo authflowrepo.Repo, options ...Option) *Server {
	s := &Server{
		env:       cfg.GetEnv(),
		router:    mux.NewRouter(),
		config:    cfg,
		manager:   manager,
		authState: authStateRepo,
		logger:    log.Logger,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(method, path string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+path)
	s.router.HandleFunc(path, handler).Methods(method)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		s.logger.Debug().Msg(colourRoute(route))
	}
}

func colourRoute(route string) string {
	var method, path string
	if _, err := fmt.Sscanf(route, "%s %s", &method, &path); err != nil {
		return route
	}
	colour, ok := methodColors[method]
	if !ok {
		colour = Gray
	}
	return fmt.Sprintf("[%s %-7s%s] %s", colour, method, ResetColor, path)
}
