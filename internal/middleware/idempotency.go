package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/carnil/carnil/pkg/retry"
	"github.com/rs/zerolog"
)

const (
	IdempotencyKeyHeader   = "Idempotency-Key"
	maxIdempotencyBodySize = 1 << 20
	idempotencyLockTTL     = time.Minute
)

// lockWait bounds how long a repeated request waits for the first one to
// finish before answering 409.
var lockWait = retry.Config{MaxAttempts: 5, InitialDelay: 25 * time.Millisecond, MaxDelay: 200 * time.Millisecond}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the caller's identity. A second request arriving while
// the first is still running waits briefly for its result and gets 409 if it
// is not ready. 5xx responses are not stored so the caller can retry them.
func Idempotency(store *infraRedis.IdempotencyStore, metrics *observability.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if id, ok := IdentityFrom(r.Context()); ok {
				key = id.CustomerID + ":" + key
			}

			ctx := r.Context()
			if entry, err := store.Get(ctx, key); err != nil {
				logger.Warn().Err(err).Msg("Idempotency lookup failed, serving request")
			} else if entry != nil {
				replay(w, entry, metrics)
				return
			}

			lock := store.Lock(key, idempotencyLockTTL)
			if err := lock.AcquireWithRetry(ctx, lockWait); err != nil {
				if errors.Is(err, infraRedis.ErrLockHeld) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusConflict)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "a request with this idempotency key is in progress",
						"code":  "idempotency_conflict",
					})
					return
				}
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Msg("Idempotency lock failed, serving request")
			}
			defer lock.Release(ctx)

			// The previous holder may have stored its response while we waited.
			if entry, err := store.Get(ctx, key); err == nil && entry != nil {
				replay(w, entry, metrics)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode < 500 && !rec.bodyTruncated {
				err := store.Set(ctx, key, &infraRedis.CachedResponse{
					Status:    rec.statusCode,
					Body:      rec.body.Bytes(),
					CreatedAt: time.Now().UTC(),
				})
				if err != nil {
					logger.Warn().Err(err).Msg("Failed to store idempotent response")
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, entry *infraRedis.CachedResponse, metrics *observability.Metrics) {
	if metrics != nil {
		metrics.IdempotentReplays.Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
