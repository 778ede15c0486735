// Package pipeline runs attribution for a date range: journeys are built,
// scored by the attribution service, stored, and rolled up into the channel
// report.
package pipeline

import (
	"context"
	"errors"
	"time"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/journey"
	"example.com/attribution/internal/notify"
	"example.com/attribution/internal/report"
)

var (
	ErrNoConversions   = errors.New("no conversions in range")
	ErrNoJourneys      = errors.New("no journeys could be built")
	ErrInvalidJourneys = errors.New("every batch failed validation")
	ErrNoCredits       = errors.New("attribution returned no usable credits")
	ErrEmptyReport     = errors.New("channel report is empty")
	ErrRunInProgress   = errors.New("a run is already in progress")
)

type ConversionStore interface {
	Conversions(ctx context.Context, r domain.DateRange) ([]domain.Conversion, error)
}

// ResultStore persists credits. Inserting an existing (conv_id, session_id)
// must be a no-op.
type ResultStore interface {
	InsertCredits(ctx context.Context, credits []domain.Credit) (int64, error)
	AttributedConversionIDs(ctx context.Context, ids []string) ([]string, error)
	UnbalancedConversions(ctx context.Context, tolerance float64) ([]domain.CreditSum, error)
}

type ReportStore interface {
	RebuildChannelReporting(ctx context.Context, r domain.DateRange) (int64, error)
	ChannelReport(ctx context.Context, r domain.DateRange, channel string) ([]domain.ChannelReportRow, error)
}

// Scorer returns the credits of one batch of journeys.
type Scorer interface {
	Score(ctx context.Context, batch domain.Batch) ([]domain.Credit, error)
}

type Notifier interface {
	Publish(ctx context.Context, key string, msg notify.Envelope) error
}

type Deps struct {
	Conversions ConversionStore
	Sessions    journey.SessionSource
	Results     ResultStore
	Reports     ReportStore
	Scorer      Scorer
	Exporter    report.Exporter
	// Notifier is optional.
	Notifier Notifier
}

const DefaultSumTolerance = 0.001

type Options struct {
	Journey             journey.Options
	MaxJourneysPerChunk int
	MaxSessionsPerChunk int
	// RateLimitDelay is waited between two scoring requests.
	RateLimitDelay time.Duration
	WriteBatchSize int
	// SumTolerance is how far a conversion's credit total may drift from 1
	// before it is reported.
	SumTolerance float64
}

type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

const (
	StageValidateRange    = "validate_range"
	StageFetchConversions = "fetch_conversions"
	StageBuildJourneys    = "build_journeys"
	StageSelectPending    = "select_pending"
	StageFetchAttribution = "fetch_attribution"
	StageStoreCredits     = "store_credits"
	StageChannelReport    = "channel_report"
	StageNotify           = "notify"
)

type StageResult struct {
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`
	Mandatory bool        `json:"mandatory"`
	Detail    string      `json:"detail,omitempty"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Rejected batches failed validation and were never sent.
	Rejected int `json:"rejected"`
}

type Summary struct {
	RunID      string           `json:"run_id"`
	Range      domain.DateRange `json:"range"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Stages     []StageResult    `json:"stages"`

	Conversions int                        `json:"conversions"`
	Journeys    journey.Statistics         `json:"journeys"`
	Skips       map[journey.SkipReason]int `json:"skips,omitempty"`
	Pending     int                        `json:"pending"`

	Batches         BatchSummary `json:"batches"`
	CreditsReceived int          `json:"credits_received"`
	CreditsStored   int64        `json:"credits_stored"`
	Unbalanced      int          `json:"unbalanced"`

	ReportRows int            `json:"report_rows"`
	Totals     report.Summary `json:"totals"`
	ReportPath string         `json:"report_path,omitempty"`

	Err string `json:"error,omitempty"`
}

// OK reports whether every mandatory stage produced output.
func (s Summary) OK() bool {
	for _, st := range s.Stages {
		if st.Mandatory && st.Status == StageFailed {
			return false
		}
	}
	return true
}

// Stage returns the result of the named stage, if it ran.
func (s Summary) Stage(name string) (StageResult, bool) {
	for _, st := range s.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return StageResult{}, false
}

func (s *Summary) record(name string, status StageStatus, mandatory bool, detail string) {
	s.Stages = append(s.Stages, StageResult{Name: name, Status: status, Mandatory: mandatory, Detail: detail})
}
