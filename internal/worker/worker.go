// Package worker consumes verified webhook events from the Redis stream the
// API publishes to.
package worker

import (
	"context"
	"time"

	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/carnil/carnil/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultClaimInterval = 30 * time.Second
	DefaultMinIdle       = time.Minute
)

type Worker struct {
	consumer *infraRedis.StreamConsumer
	sink     webhook.Sink
	metrics  *observability.Metrics
	logger   zerolog.Logger

	claimInterval time.Duration
	minIdle       time.Duration
}

type Option func(*Worker)

// WithClaim sets how often pending messages idle for longer than minIdle are
// taken over from dead consumers.
func WithClaim(interval, minIdle time.Duration) Option {
	return func(w *Worker) {
		w.claimInterval = interval
		w.minIdle = minIdle
	}
}

func New(consumer *infraRedis.StreamConsumer, sink webhook.Sink, metrics *observability.Metrics, logger zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		consumer:      consumer,
		sink:          sink,
		metrics:       metrics,
		logger:        logger.With().Str("stream", consumer.Stream()).Logger(),
		claimInterval: DefaultClaimInterval,
		minIdle:       DefaultMinIdle,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run reads until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.consumer.CreateGroup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	claim := time.NewTicker(w.claimInterval)
	defer claim.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-claim.C:
			if _, err := w.Reclaim(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Failed to claim stale messages")
			}
		default:
		}

		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reads one batch and processes it, returning how many messages were
// acknowledged.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	msgs, err := w.consumer.Read(ctx)
	if err != nil {
		return 0, err
	}
	return w.processAll(ctx, msgs), nil
}

// Reclaim takes over stale pending messages and processes them.
func (w *Worker) Reclaim(ctx context.Context) (int, error) {
	msgs, err := w.consumer.ClaimStale(ctx, w.minIdle)
	if err != nil {
		return 0, err
	}
	if len(msgs) > 0 {
		w.logger.Info().Int("count", len(msgs)).Msg("Claimed stale messages")
	}
	return w.processAll(ctx, msgs), nil
}

func (w *Worker) processAll(ctx context.Context, msgs []redis.XMessage) int {
	acked := 0
	for _, msg := range msgs {
		if w.process(ctx, msg) {
			acked++
		}
	}
	return acked
}

// process handles one message. Undecodable messages are acknowledged so they
// do not block the group; sink failures stay pending for a later claim.
func (w *Worker) process(ctx context.Context, msg redis.XMessage) bool {
	start := time.Now()
	stream := w.consumer.Stream()
	defer func() {
		w.metrics.WorkerProcessingDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	}()

	evt, err := infraRedis.DecodeEvent(msg)
	if err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping undecodable message")
		w.metrics.WorkerMessagesProcessed.WithLabelValues(stream, "invalid").Inc()
		return w.ack(ctx, msg.ID)
	}

	log := w.logger.With().Str("message_id", msg.ID).Str("event_id", evt.ID).Str("type", string(evt.Type)).Logger()
	if err := w.sink.Handle(ctx, evt); err != nil {
		log.Error().Err(err).Msg("Failed to process event")
		w.metrics.WorkerMessagesProcessed.WithLabelValues(stream, "error").Inc()
		return false
	}

	log.Info().Msg("Processed event")
	w.metrics.WorkerMessagesProcessed.WithLabelValues(stream, "success").Inc()
	return w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) bool {
	if err := w.consumer.Ack(ctx, id); err != nil {
		w.logger.Error().Err(err).Str("message_id", id).Msg("Failed to ack message")
		return false
	}
	return true
}
