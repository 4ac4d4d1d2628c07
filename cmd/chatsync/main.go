package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/state"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/term"
	"github.com/rs/zerolog"
)

var (
	configPath string
	env        string
	verbose    bool
	flags      config.Values
)

func newLogger(env string, verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func main() {
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&flags.Server, "server", "", "chat server URL, e.g. http://localhost:5000")
	flag.StringVar(&flags.Token, "token", os.Getenv("CHATSYNC_TOKEN"), "session token (defaults to $CHATSYNC_TOKEN)")
	flag.StringVar(&flags.Username, "username", "", "username, when the token does not carry one")
	flag.StringVar(&flags.DefaultRoom, "room", "", "room to join on connect")
	flag.DurationVar(&flags.TypingWindow, "typing-window", 0, "idle time before a typing stop is sent")
	flag.StringVar(&flags.DebugAddr, "debug-addr", "", "serve counters at /debug/vars on this address")
	flag.StringVar(&env, "env", "prod", "dev for human-readable logs")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	logger := newLogger(env, verbose)

	file, err := config.LoadFile(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config file")
	}
	cfg, err := config.FromValues(file.Override(flags))
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	stats.RegisterEngineMetrics(statsUpdater)
	statsUpdater.Run()

	var debugSrv *http.Server
	if cfg.DebugAddr != "" {
		debugSrv = &http.Server{
			Addr:    cfg.DebugAddr,
			Handler: handlers.RecoveryHandler()(handlers.LoggingHandler(logger, mux)),
		}
		go func() {
			logger.Info().Str("addr", cfg.DebugAddr).Msg("serving debug counters")
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("debug server")
			}
		}()
	}

	client, err := api.NewClient(logger, cfg.BaseURL, cfg.Token, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		logger.Fatal().Err(err).Msg("api client")
	}
	channel := session.NewWSChannel(logger, cfg.WSURL, cfg.Token, statsUpdater)
	renderer := term.NewRenderer(os.Stdout)
	manager := session.NewManager(logger, state.New(cfg.Self), client, channel, renderer, session.Options{
		DefaultRoom:  cfg.DefaultRoom,
		TypingWindow: cfg.TypingWindow,
		Stats:        statsUpdater,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chanErr := make(chan error, 1)
	go func() { chanErr <- channel.Run(ctx) }()
	engineErr := make(chan error, 1)
	go func() { engineErr <- manager.Run(ctx) }()
	inputDone := make(chan error, 1)
	go func() { inputDone <- term.NewShell(manager, os.Stdout).Run(ctx, os.Stdin) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	engineStopped := false
	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-chanErr:
		logger.Error().Err(err).Msg("connection")
	case err := <-engineErr:
		engineStopped = true
		logger.Error().Err(err).Msg("engine")
	case err := <-inputDone:
		if err != nil {
			logger.Error().Err(err).Msg("input")
		}
	}

	cancel()
	if !engineStopped {
		<-engineErr
	}

	if debugSrv != nil {
		shutDownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := debugSrv.Shutdown(shutDownCtx); err != nil {
			logger.Error().Err(err).Msg("debug server shutdown")
		}
	}

	logger.Info().Msg("shutdown complete")
}
