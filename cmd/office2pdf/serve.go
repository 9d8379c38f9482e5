package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-office2pdf/internal/config"
	"github.com/alnah/go-office2pdf/internal/journal"
	"github.com/alnah/go-office2pdf/internal/server"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	sentryFlush       = 2 * time.Second
)

// runServe runs the HTTP service until ctx is cancelled.
func runServe(ctx context.Context, args []string, env *Environment) error {
	flags, err := parseServeFlags(args, env.Stderr)
	if err != nil {
		return err
	}

	cfg, err := loadSettings(flags.common.config, env)
	if err != nil {
		return err
	}
	if flags.addr != "" {
		cfg.Server.Addr = flags.addr
	}
	if flags.journal != "" {
		cfg.Journal.Path = flags.journal
	}
	mergeEngineFlags(&flags.engine, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(env.Stderr, cfg.Log, flags.common.verbose)

	var reporter server.Reporter
	if cfg.Sentry.DSN != "" {
		if err := initSentry(cfg.Sentry); err != nil {
			return fmt.Errorf("initializing sentry: %w", err)
		}
		defer sentry.Flush(sentryFlush)
		reporter = server.SentryReporter{}
	}

	var jrnl server.Journal
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("closing journal", "error", err)
			}
		}()
		jrnl = j
	}

	conv, err := env.NewConverter(cfg, logger)
	if err != nil {
		return err
	}

	handler := server.New(conv, server.Options{
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Logger:         logger,
		Journal:        jrnl,
		Reporter:       reporter,
		Version:        Version,
	}).Handler()

	serveErr := serve(ctx, env, cfg.Server, handler, logger, conv.Workers())

	if err := conv.Close(); err != nil {
		logger.Error("stopping engines", "error", err)
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// serve listens on cfg.Addr and shuts down gracefully when ctx is done.
func serve(ctx context.Context, env *Environment, cfg config.ServerConfig, handler http.Handler, logger *slog.Logger, workers int) error {
	ln, err := env.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", ln.Addr().String(), "workers", workers, "version", Version)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initSentry(cfg config.SentryConfig) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          "office2pdf@" + Version,
		SampleRate:       cfg.SampleRate,
		AttachStacktrace: true,
	})
}
