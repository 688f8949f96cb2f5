package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carnil/carnil/internal/infrastructure/observability"
	infraRedis "github.com/carnil/carnil/internal/infrastructure/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIdempotency(t *testing.T, status int) (http.Handler, *atomic.Int32, *observability.Metrics, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	store := infraRedis.NewIdempotencyStore(client, time.Hour)

	var calls atomic.Int32
	handler := Idempotency(store, metrics, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))
	return handler, &calls, metrics, client
}

func send(h http.Handler, key, customer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/carnil", nil)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if customer != "" {
		req = req.WithContext(WithIdentity(req.Context(), Identity{CustomerID: customer}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	h, calls, metrics, _ := setupIdempotency(t, http.StatusOK)

	first := send(h, "key-1", "")
	second := send(h, "key-1", "")

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
	assert.Empty(t, first.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdempotentReplays))
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	h, calls, _, _ := setupIdempotency(t, http.StatusOK)

	send(h, "", "")
	send(h, "", "")

	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_KeysScopedByIdentity(t *testing.T) {
	h, calls, _, _ := setupIdempotency(t, http.StatusOK)

	send(h, "key-1", "cus_a")
	send(h, "key-1", "cus_b")
	send(h, "key-1", "cus_a")

	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	h, calls, _, _ := setupIdempotency(t, http.StatusBadGateway)

	send(h, "key-1", "")
	w := send(h, "key-1", "")

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, w.Header().Get("X-Idempotency-Replayed"))
}

func TestIdempotency_ClientErrorsStored(t *testing.T) {
	h, calls, _, _ := setupIdempotency(t, http.StatusUnprocessableEntity)

	send(h, "key-1", "")
	w := send(h, "key-1", "")

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIdempotency_InFlightConflict(t *testing.T) {
	h, calls, _, client := setupIdempotency(t, http.StatusOK)

	held := infraRedis.NewDistributedLock(client, "idempotency:key-1", time.Minute)
	ok, err := held.Acquire(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	w := send(h, "key-1", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "idempotency_conflict")
	assert.Zero(t, calls.Load())

	require.NoError(t, held.Release(t.Context()))
	w = send(h, "key-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIdempotency_ReplaysResultStoredWhileWaiting(t *testing.T) {
	h, calls, metrics, client := setupIdempotency(t, http.StatusOK)
	store := infraRedis.NewIdempotencyStore(client, time.Hour)

	held := infraRedis.NewDistributedLock(client, "idempotency:key-1", time.Minute)
	ok, err := held.Acquire(t.Context())
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- send(h, "key-1", "") }()

	// The first request finishes after the second one missed the cache.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Set(t.Context(), "key-1", &infraRedis.CachedResponse{
		Status: http.StatusCreated,
		Body:   []byte(`{"call":"first"}`),
	}))
	require.NoError(t, held.Release(t.Context()))

	w := <-done
	assert.Zero(t, calls.Load())
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"call":"first"}`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdempotentReplays))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest("POST", "/api/carnil", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
