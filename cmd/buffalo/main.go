package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/user/buffalo/internal/api"
	"github.com/user/buffalo/internal/catalog"
	"github.com/user/buffalo/internal/config"
	"github.com/user/buffalo/internal/db"
	"github.com/user/buffalo/internal/dispatch"
	"github.com/user/buffalo/internal/graph"
	"github.com/user/buffalo/internal/hub"
	"github.com/user/buffalo/internal/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			slog.Error("configuration incomplete", "missing", missing.Keys)
		} else {
			slog.Error("buffalo exited", "error", err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	builder, err := graph.NewBuilder(graph.CredentialsFromConfig(cfg), cfg.AppBaseURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	tests, err := catalog.New(cfg.CatalogDir)
	if err != nil {
		return fmt.Errorf("load test catalog: %w", err)
	}
	if _, _, err := tests.Sync(ctx, db.NewCustomTestRepo(database.SQL())); err != nil {
		return err
	}

	events := hub.New(cfg.Token)
	router := api.NewRouter(database.SQL(), api.Options{
		Notifier:      events,
		Builder:       builder,
		Gateway:       dispatch.New(cfg.OrchestratorBaseURL, cfg.DispatchTimeout),
		Catalog:       tests,
		Token:         cfg.Token,
		CallbackRate:  cfg.CallbackRate,
		CallbackBurst: cfg.CallbackBurst,
	})
	srv := server.New(cfg, events, router)

	if cfg.PrintToken {
		fmt.Printf("\nbuffalo running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("\nbuffalo running at http://localhost:%d\n\n", cfg.Port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return events.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	return g.Wait()
}
