// apps/go-server/main.go
//
// Entry point: loads config, opens the durable store, wires the session
// engine behind the HTTP server, and shuts down on SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/config"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/durable"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/httpserver"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/match"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/session"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/turn"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/words"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.Logging)

	db, err := durable.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer db.Close()
	if err := durable.Migrate(db, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	records := durable.NewStore(db)

	dict, err := dictionary(cfg.Dictionary)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load word list")
	}

	logger := log.Logger
	docs := store.NewMemory(logger)
	sessions := store.NewSessions(docs)

	sched := turn.NewScheduler(sessions, cfg.Game.TurnDuration, nil, logger)
	defer sched.Stop()

	factory := match.NewSessionFactory(sessions, records, sched, nil, logger)
	matcher := match.New(match.Config{
		Docs:      docs,
		Factory:   factory,
		Pointers:  records,
		MaxBucket: cfg.Game.MaxBucketSize,
		Logger:    logger,
	})
	svc := session.New(session.Config{
		Sessions:      sessions,
		Dictionary:    dict,
		Durable:       records,
		Timer:         sched,
		Rules:         cfg.Rules(),
		LookupTimeout: cfg.Dictionary.Timeout,
		Logger:        logger,
	})

	srv := httpserver.New(httpserver.Deps{
		Matcher:      matcher,
		Sessions:     svc,
		Records:      records,
		JWTSecret:    cfg.Server.JWTSecret,
		ClientOrigin: cfg.Server.ClientOrigin,
		Logger:       logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting go-server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// setupLogging applies LOG_LEVEL and LOG_FORMAT to the global logger.
func setupLogging(c config.LoggingConfig) {
	if lvl, err := zerolog.ParseLevel(c.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if c.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// dictionary picks the remote dictionary when a URL is configured, else the word list.
func dictionary(c config.DictionaryConfig) (words.Checker, error) {
	if c.URL != "" {
		log.Info().Str("url", c.URL).Msg("using remote dictionary")
		return words.NewHTTP(c.URL, &http.Client{Timeout: c.Timeout}), nil
	}
	list, err := words.LoadList(c.WordsFile)
	if err != nil {
		return nil, err
	}
	log.Info().Int("words", list.Len()).Msg("word list loaded")
	return list, nil
}
