package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/idempotency"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL    = "https://api.ihc-attribution.com/v1"
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

type Options struct {
	BaseURL    string
	APIKey     string
	ConvTypeID string
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
	// Redistribution is sent with every Score call when set.
	Redistribution *RedistributionParameter
	// ResponseDumpDir, when set, receives every successful response as JSON.
	ResponseDumpDir string
}

// Client talks to the IHC attribution service.
type Client struct {
	opts  Options
	http  *http.Client
	dumps atomic.Int64
	now   func() time.Time
}

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gateway: API key is required")
	}
	if opts.ConvTypeID == "" {
		return nil, errors.New("gateway: conversion type ID is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	log.WithField("conv_type_id", opts.ConvTypeID).Info("Initialized IHC API client.")
	return &Client{opts: opts, http: hc, now: time.Now}, nil
}

type request struct {
	CustomerJourneys        []domain.JourneySessionRecord `json:"customer_journeys"`
	RedistributionParameter *RedistributionParameter      `json:"redistribution_parameter,omitempty"`
}

// ScoredSession is one credited session in a response.
type ScoredSession struct {
	ConversionID string   `json:"conversion_id"`
	SessionID    string   `json:"session_id"`
	IHC          float64  `json:"ihc"`
	Initializer  *float64 `json:"initializer,omitempty"`
	Holder       *float64 `json:"holder,omitempty"`
	Closer       *float64 `json:"closer,omitempty"`
}

type Response struct {
	StatusCode           int               `json:"statusCode"`
	Message              string            `json:"message,omitempty"`
	Value                []ScoredSession   `json:"value"`
	PartialFailureErrors []json.RawMessage `json:"partialFailureErrors,omitempty"`
}

// StatusError is a rejected request: a non-2xx HTTP status or an API status
// code other than 200/206.
type StatusError struct {
	HTTPStatus int
	APIStatus  int
	Message    string
}

func (e *StatusError) Error() string {
	if e.APIStatus != 0 {
		return fmt.Sprintf("API error: %d - %s", e.APIStatus, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.HTTPStatus, e.Message)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	if e.APIStatus != 0 {
		return true
	}
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500
}

func (c *Client) endpoint() string {
	return c.opts.BaseURL + "/compute_ihc?conv_type_id=" + url.QueryEscape(c.opts.ConvTypeID)
}

// ComputeIHC scores one batch, retrying failed attempts after a fixed delay.
// Partial failures reported by the service are logged and the rest of the
// response is returned.
func (c *Client) ComputeIHC(ctx context.Context, batch domain.Batch, redistribution *RedistributionParameter) (Response, error) {
	body, err := json.Marshal(request{CustomerJourneys: batch, RedistributionParameter: redistribution})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	key := idempotency.BatchKey(batch)
	logCtx := log.WithFields(log.Fields{"batch_key": key, "sessions": len(batch)})

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		resp, err := c.post(ctx, body, key)
		if err == nil {
			if n := len(resp.PartialFailureErrors); n > 0 {
				logCtx.WithField("failures", n).Warn("API returned partial failures.")
				for _, f := range resp.PartialFailureErrors {
					logCtx.WithField("failure", string(f)).Warn("Partial failure.")
				}
			}
			c.dump(resp)
			logCtx.Info("Computed IHC for batch.")
			return resp, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			break
		}
		if ctx.Err() != nil || attempt == c.opts.MaxRetries {
			break
		}
		logCtx.WithError(err).WithField("attempt", attempt).Warn("Request failed, retrying.")

		timer := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, fmt.Errorf("compute ihc cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	logCtx.WithError(lastErr).Error("Request failed.")
	return Response{}, fmt.Errorf("compute ihc: %w", lastErr)
}

func (c *Client) post(ctx context.Context, body []byte, key string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.opts.APIKey)
	req.Header.Set("X-Request-Id", key)

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Response{}, &StatusError{HTTPStatus: res.StatusCode, Message: string(bytes.TrimSpace(raw))}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if out.StatusCode != http.StatusOK && out.StatusCode != http.StatusPartialContent {
		msg := out.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return Response{}, &StatusError{HTTPStatus: res.StatusCode, APIStatus: out.StatusCode, Message: msg}
	}
	return out, nil
}

// dump writes resp to the dump directory; failures only log.
func (c *Client) dump(resp Response) {
	if c.opts.ResponseDumpDir == "" {
		return
	}
	if err := os.MkdirAll(c.opts.ResponseDumpDir, 0o755); err != nil {
		log.WithError(err).Warn("Failed to create response dump dir.")
		return
	}
	n := c.dumps.Add(1)
	name := fmt.Sprintf("ihc_response_%s_%d.json", c.now().Format("20060102_150405"), n)
	path := filepath.Join(c.opts.ResponseDumpDir, name)
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.WithError(err).Warn("Failed to marshal response dump.")
		return
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		log.WithError(err).Warn("Failed to write response dump.")
		return
	}
	log.WithField("path", path).Debug("Saved API response.")
}

// Credits flattens a response into result triples.
func Credits(resp Response) []domain.Credit {
	out := make([]domain.Credit, 0, len(resp.Value))
	for _, v := range resp.Value {
		out = append(out, domain.Credit{ConvID: v.ConversionID, SessionID: v.SessionID, IHC: v.IHC})
	}
	return out
}

// Score sends a batch with the configured redistribution and returns the
// credits.
func (c *Client) Score(ctx context.Context, batch domain.Batch) ([]domain.Credit, error) {
	resp, err := c.ComputeIHC(ctx, batch, c.opts.Redistribution)
	if err != nil {
		return nil, err
	}
	return Credits(resp), nil
}

// ValidateCredits checks ids are present and every ihc lies in [0, 1].
func ValidateCredits(credits []domain.Credit) error {
	if len(credits) == 0 {
		return errors.New("no attribution results")
	}
	var errs []domain.FieldError
	for i, c := range credits {
		prefix := fmt.Sprintf("results[%d]", i)
		if c.ConvID == "" {
			errs = append(errs, domain.FieldError{Field: prefix + ".conv_id", Msg: "required"})
		}
		if c.SessionID == "" {
			errs = append(errs, domain.FieldError{Field: prefix + ".session_id", Msg: "required"})
		}
		if math.IsNaN(c.IHC) || c.IHC < 0 || c.IHC > 1 {
			errs = append(errs, domain.FieldError{Field: prefix + ".ihc", Msg: fmt.Sprintf("invalid value %v", c.IHC)})
		}
	}
	return domain.JoinFieldErrors(errs)
}
