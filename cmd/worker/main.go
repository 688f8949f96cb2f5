package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carnil/carnil/internal/bootstrap"
	"github.com/carnil/carnil/internal/domain/event"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/carnil/carnil/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "carnil-worker", "carnil_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		app.Config.Webhook.Stream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)

	projector := worker.NewProjector(app.Client, app.Logger,
		worker.WithCapacity(workerCfg.MaxProjections),
		worker.WithSnapshots(app.Projections),
	)
	audit := webhook.NewRouter().
		On(event.TypePaymentFailed, func(_ context.Context, evt *event.WebhookEvent) error {
			app.Logger.Warn().Str("event_id", evt.ID).Str("customer_id", evt.CustomerID()).Msg("Payment failed")
			return nil
		}).
		On(event.TypeInvoicePaymentFailed, func(_ context.Context, evt *event.WebhookEvent) error {
			app.Logger.Warn().Str("event_id", evt.ID).Str("customer_id", evt.CustomerID()).Msg("Invoice payment failed")
			return nil
		})
	sink := webhook.NewDispatcher(app.Logger, projector, audit)

	app.Logger.Info().
		Str("stream", consumer.Stream()).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.New(consumer, webhook.SinkFunc(sink.Dispatch), app.Metrics, app.Logger).Run(gCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
