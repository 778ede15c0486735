package transporthttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitPerMinute(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimitPerMinute(30, clock)(ok)

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/channels", nil))
		return rec
	}

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusOK, get().Code, "request %d", i)
	}

	t.Run("retry-after follows the refill rate", func(t *testing.T) {
		// 30/min refills half a token per second.
		rec := get()
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))

		now = now.Add(time.Second)
		rec = get()
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))

		now = now.Add(time.Second)
		assert.Equal(t, http.StatusOK, get().Code)
	})

	t.Run("non-GET requests bypass the limiter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 60, retryAfterSeconds(0, 1.0/60.0))
	assert.Equal(t, 2, retryAfterSeconds(0, 0.5))
	assert.Equal(t, 1, retryAfterSeconds(0.75, 0.5))
	assert.Equal(t, 1, retryAfterSeconds(0.999999, 100))
}
