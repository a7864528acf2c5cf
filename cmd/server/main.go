package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-qbo-auth/internal/config"
	"github.com/jrsteele09/go-qbo-auth/oauth2"
	"github.com/jrsteele09/go-qbo-auth/server"
	"github.com/jrsteele09/go-qbo-auth/server/authflowrepo"
	"github.com/jrsteele09/go-qbo-auth/token"
	"github.com/jrsteele09/go-qbo-auth/token/exchange"
	"github.com/jrsteele09/go-qbo-auth/tokenstore"
	"github.com/jrsteele09/go-qbo-auth/tokenstore/filerepo"
	"github.com/jrsteele09/go-qbo-auth/tokenstore/sqliterepo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := c.GetEnvironment()
	if err != nil {
		return err
	}
	endpoints := oauth2.EndpointsFor(env)

	client, err := exchange.New(exchange.Config{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURI:  c.GetRedirectURI(),
		Scopes:       c.GetScopes(),
		Endpoints:    endpoints,
	})
	if err != nil {
		return errors.Wrap(err, "exchange.New")
	}
	manager := token.New(client, token.WithAutoRefresh(c.GetAutoRefresh()))

	options := []server.Option{server.WithAPIBaseURL(endpoints.APIBaseURL)}
	persister, closeStore, err := setupPersistence(ctx, c, manager)
	if err != nil {
		return err
	}
	defer closeStore()
	if persister != nil {
		options = append(options, server.WithPersister(persister))
	}

	handler := server.New(c, manager, authflowrepo.NewInMemoryRepo(), options...)
	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- listenAndServe(httpServer)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// setupPersistence builds the configured token store, restores any saved
// token and keeps the store in step with the manager. The memory store, or a
// missing TOKEN_SECRET, keeps tokens in process only.
func setupPersistence(ctx context.Context, c config.Config, manager *token.Manager) (*tokenstore.Persister, func(), error) {
	noop := func() {}
	kind, err := c.GetTokenStore()
	if err != nil {
		return nil, noop, err
	}
	if kind == config.MemoryStore {
		return nil, noop, nil
	}
	if c.GetTokenSecret() == "" {
		log.Warn().Msg("TOKEN_SECRET not set, tokens will not be persisted")
		return nil, noop, nil
	}

	var repo tokenstore.Repo
	closeStore := noop
	switch kind {
	case config.FileStore:
		repo, err = filerepo.New(filepath.Join(c.GetDataFolder(), "tokens"))
	case config.SQLiteStore:
		var db *sqliterepo.Repo
		db, err = sqliterepo.Open(filepath.Join(c.GetDataFolder(), "tokens.db"))
		if err == nil {
			repo = db
			closeStore = func() { _ = db.Close() }
		}
	}
	if err != nil {
		return nil, noop, errors.Wrapf(err, "token store %s", kind)
	}

	persister, err := tokenstore.NewPersister(repo, c.GetTokenKey(), c.GetTokenSecret())
	if err != nil {
		closeStore()
		return nil, noop, err
	}

	restored, err := persister.Restore(ctx, manager)
	if err != nil {
		// Keep serving; the user can connect again.
		log.Warn().Err(err).Msg("stored token could not be restored")
	} else if restored {
		log.Info().Str("state", manager.State().String()).Msg("stored token restored")
	}
	persister.Attach(manager)

	if w, ok := repo.(tokenstore.Watcher); ok && kind == config.FileStore {
		if err := persister.Follow(ctx, manager, w); err != nil {
			log.Warn().Err(err).Msg("token file watch not started")
		}
	}
	log.Info().Str("store", string(kind)).Str("key", persister.Key()).Msg("token persistence enabled")
	return persister, closeStore, nil
}

func setupLogging(env string) {
	var out io.Writer = os.Stderr
	level := zerolog.InfoLevel
	if env == "DEV" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
