package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/carnil/carnil/internal/bootstrap"
	"github.com/carnil/carnil/internal/controller"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "carnil-api", "carnil")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	processor, dispatcher, dedupe := app.WebhookPipeline()

	router := controller.NewRouter(controller.RouterDeps{
		Client:      app.Client,
		Processor:   processor,
		Dispatcher:  dispatcher,
		RedisClient: app.Redis,
		Idempotency: infraRedis.NewIdempotencyStore(app.Redis, app.Config.Server.IdempotencyTTL),
		Dedupe:      dedupe,
		Projections: app.Projections,
		Metrics:     app.Metrics,
		Gatherer:    app.Gatherer,
		Server:      app.Config.Server,
		Auth:        app.Config.Auth,
		WebhookBody: app.Config.Webhook.MaxBody,
		Logger:      app.Logger,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
