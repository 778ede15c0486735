package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"example.com/attribution/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBatch() domain.Batch {
	return domain.Batch{
		{ConversionID: "C1", SessionID: "S1", Timestamp: "2024-01-10 09:00:00", ChannelLabel: "Email"},
		{ConversionID: "C1", SessionID: "S2", Timestamp: "2024-01-10 11:00:00", ChannelLabel: "Direct", Conversion: 1},
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{BaseURL: srv.URL, APIKey: "secret", ConvTypeID: "purchase", MaxRetries: 3, RetryDelay: time.Millisecond, HTTPClient: srv.Client()}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(Options{ConvTypeID: "x"})
	assert.Error(t, err)
	_, err = New(Options{APIKey: "x"})
	assert.Error(t, err)
}

func TestComputeIHC(t *testing.T) {
	t.Run("sends journeys and parses credits", func(t *testing.T) {
		var got request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/compute_ihc", r.URL.Path)
			assert.Equal(t, "purchase", r.URL.Query().Get("conv_type_id"))
			assert.Equal(t, "secret", r.Header.Get("x-api-key"))
			assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
			b, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(b, &got))
			_, _ = w.Write([]byte(`{"statusCode":200,"value":[
				{"conversion_id":"C1","session_id":"S1","ihc":0.3},
				{"conversion_id":"C1","session_id":"S2","ihc":0.7}]}`))
		}))
		defer srv.Close()

		c := newTestClient(t, srv, func(o *Options) { o.Redistribution = DefaultRedistribution(nil) })
		credits, err := c.Score(context.Background(), testBatch())
		require.NoError(t, err)

		assert.Equal(t, []domain.Credit{{ConvID: "C1", SessionID: "S1", IHC: 0.3}, {ConvID: "C1", SessionID: "S2", IHC: 0.7}}, credits)
		require.Len(t, got.CustomerJourneys, 2)
		assert.Equal(t, 1, got.CustomerJourneys[1].Conversion)
		require.NotNil(t, got.RedistributionParameter)
		assert.Equal(t, LaterSessionsOnly, got.RedistributionParameter.Closer.Direction)
		assert.Equal(t, []string{"Direct"}, got.RedistributionParameter.Holder.RedistributionChannelLabels)
	})

	t.Run("omits redistribution when not configured", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, ok := body["redistribution_parameter"]
			assert.False(t, ok)
			_, _ = w.Write([]byte(`{"statusCode":200,"value":[]}`))
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).ComputeIHC(context.Background(), testBatch(), nil)
		require.NoError(t, err)
	})

	t.Run("keeps successful rows of a partial failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"statusCode":206,"value":[{"conversion_id":"C1","session_id":"S1","ihc":1}],
				"partialFailureErrors":[{"conversion_id":"C2","message":"bad journey"}]}`))
		}))
		defer srv.Close()

		resp, err := newTestClient(t, srv).ComputeIHC(context.Background(), testBatch(), nil)
		require.NoError(t, err)
		assert.Len(t, resp.Value, 1)
		assert.Len(t, resp.PartialFailureErrors, 1)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"statusCode":200,"value":[{"conversion_id":"C1","session_id":"S1","ihc":1}]}`))
		}))
		defer srv.Close()

		resp, err := newTestClient(t, srv).ComputeIHC(context.Background(), testBatch(), nil)
		require.NoError(t, err)
		assert.Len(t, resp.Value, 1)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after the attempt limit", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"statusCode":500,"message":"model unavailable"}`))
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).ComputeIHC(context.Background(), testBatch(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model unavailable")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry a rejected request", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "invalid journeys", http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).ComputeIHC(context.Background(), testBatch(), nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stops waiting when the context is cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		c := newTestClient(t, srv, func(o *Options) { o.RetryDelay = time.Hour })
		_, err := c.ComputeIHC(ctx, testBatch(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("dumps responses when configured", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"statusCode":200,"value":[]}`))
		}))
		defer srv.Close()

		dir := t.TempDir()
		c := newTestClient(t, srv, func(o *Options) { o.ResponseDumpDir = dir })
		_, err := c.ComputeIHC(context.Background(), testBatch(), nil)
		require.NoError(t, err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Regexp(t, `^ihc_response_\d{8}_\d{6}_1\.json$`, entries[0].Name())
	})
}

func TestValidateCredits(t *testing.T) {
	assert.NoError(t, ValidateCredits([]domain.Credit{{ConvID: "C1", SessionID: "S1", IHC: 1}}))
	assert.Error(t, ValidateCredits(nil))
	assert.Error(t, ValidateCredits([]domain.Credit{{ConvID: "C1", SessionID: "S1", IHC: 1.2}}))
	assert.Error(t, ValidateCredits([]domain.Credit{{ConvID: "", SessionID: "S1", IHC: 0.5}}))
	assert.Error(t, ValidateCredits([]domain.Credit{{ConvID: "C1", SessionID: "S1", IHC: -0.1}}))
}
