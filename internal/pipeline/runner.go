package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/gateway"
	"example.com/attribution/internal/idempotency"
	"example.com/attribution/internal/ingest"
	"example.com/attribution/internal/journey"
	"example.com/attribution/internal/notify"
	"example.com/attribution/internal/report"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Runner executes one run at a time.
type Runner struct {
	deps    Deps
	opts    Options
	running atomic.Bool
	now     func() time.Time
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.SumTolerance <= 0 {
		opts.SumTolerance = DefaultSumTolerance
	}
	return &Runner{deps: deps, opts: opts, now: time.Now}
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool { return r.running.Load() }

// run carries the state of one Run call between stages.
type run struct {
	*Runner
	sum    Summary
	logCtx *log.Entry
}

// fail records a mandatory stage failure and returns the error for Run.
func (x *run) fail(stage string, err error) error {
	x.sum.record(stage, StageFailed, true, err.Error())
	x.logCtx.WithError(err).WithField("stage", stage).Error("Stage failed.")
	return fmt.Errorf("%s: %w", stage, err)
}

// Run attributes every conversion in rng that has no stored credits yet and
// refreshes the channel report for rng. The error is non-nil only when a
// mandatory stage produced no usable output; Summary describes every stage
// either way.
func (r *Runner) Run(ctx context.Context, rng domain.DateRange) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	x := &run{Runner: r}
	x.sum = Summary{RunID: uuid.NewString(), Range: rng, StartedAt: r.now().UTC()}
	x.logCtx = log.WithFields(log.Fields{"run_id": x.sum.RunID, "range": rng.String()})
	x.logCtx.Info("Attribution run started.")

	err := x.execute(ctx, rng)
	x.sum.FinishedAt = r.now().UTC()
	if err != nil {
		x.sum.Err = err.Error()
	}
	x.publish(ctx)

	x.logCtx.WithFields(log.Fields{
		"ok":             x.sum.OK(),
		"credits_stored": x.sum.CreditsStored,
		"report_rows":    x.sum.ReportRows,
		"duration":       x.sum.FinishedAt.Sub(x.sum.StartedAt).String(),
	}).Info("Attribution run finished.")
	return x.sum, err
}

func (x *run) execute(ctx context.Context, rng domain.DateRange) error {
	if errs := rng.Validate(); len(errs) > 0 {
		return x.fail(StageValidateRange, domain.JoinFieldErrors(errs))
	}
	x.sum.record(StageValidateRange, StageOK, true, "")

	conversions, err := x.deps.Conversions.Conversions(ctx, rng)
	if err != nil {
		return x.fail(StageFetchConversions, err)
	}
	if len(conversions) == 0 {
		return x.fail(StageFetchConversions, ErrNoConversions)
	}
	x.sum.Conversions = len(conversions)
	x.sum.record(StageFetchConversions, StageOK, true, fmt.Sprintf("%d conversions", len(conversions)))

	records, err := x.buildJourneys(ctx, conversions)
	if err != nil {
		return err
	}

	batches, err := x.selectPending(ctx, records)
	if err != nil {
		return err
	}

	writer := ingest.NewWriter(x.deps.Results, x.opts.WriteBatchSize)
	if len(batches) == 0 {
		x.sum.record(StageFetchAttribution, StageSkipped, true, "every conversion already attributed")
	} else if err := x.score(ctx, batches, writer); err != nil {
		return err
	}

	if err := x.store(ctx, writer); err != nil {
		return err
	}
	return x.channelReport(ctx, rng)
}

func (x *run) buildJourneys(ctx context.Context, conversions []domain.Conversion) ([]domain.JourneySessionRecord, error) {
	asm, err := journey.NewAssembler(x.deps.Sessions, journey.NewClaimSet(), x.opts.Journey).Assemble(ctx, conversions)
	if err != nil {
		return nil, x.fail(StageBuildJourneys, err)
	}
	x.sum.Skips = asm.Skips()
	if asm.Journeys == 0 {
		return nil, x.fail(StageBuildJourneys, ErrNoJourneys)
	}

	st := journey.Stats(asm.Records)
	x.sum.Journeys = st
	x.logCtx.WithFields(log.Fields{
		"journeys":     st.TotalJourneys,
		"sessions":     st.TotalSessions,
		"avg_sessions": fmt.Sprintf("%.2f", st.AvgSessionsPerJourney),
		"min_sessions": st.MinSessions,
		"max_sessions": st.MaxSessions,
		"skipped":      len(asm.Skipped),
	}).Info("Journey statistics.")
	for reason, n := range x.sum.Skips {
		x.logCtx.WithFields(log.Fields{"reason": reason, "count": n}).Warn("Skipped units.")
	}

	detail := fmt.Sprintf("%d journeys, %d sessions", st.TotalJourneys, st.TotalSessions)
	if !journey.Valid(asm.Records) {
		detail += ", invalid records present"
	}
	x.sum.record(StageBuildJourneys, StageOK, true, detail)
	return asm.Records, nil
}

// selectPending drops journeys of conversions that already have credits and
// chunks the rest. Journeys are assembled for every conversion first so the
// claims of attributed conversions still hold.
func (x *run) selectPending(ctx context.Context, records []domain.JourneySessionRecord) ([]domain.Batch, error) {
	ids := domain.Batch(records).ConversionIDs()
	done, err := x.deps.Results.AttributedConversionIDs(ctx, ids)
	if err != nil {
		return nil, x.fail(StageSelectPending, err)
	}
	attributed := make(map[string]struct{}, len(done))
	for _, id := range done {
		attributed[id] = struct{}{}
	}
	var pending []string
	for _, id := range ids {
		if _, ok := attributed[id]; !ok {
			pending = append(pending, id)
		}
	}
	x.sum.Pending = len(pending)

	batches := journey.Chunk(journey.OnlyConversions(records, pending), x.opts.MaxJourneysPerChunk, x.opts.MaxSessionsPerChunk)
	x.logCtx.WithFields(log.Fields{"attributed": len(done), "pending": len(pending), "batches": len(batches)}).
		Info("Selected conversions needing attribution.")
	x.sum.record(StageSelectPending, StageOK, true, fmt.Sprintf("%d pending, %d batches", len(pending), len(batches)))
	return batches, nil
}

// score sends batches one at a time. A failed or rejected batch is counted
// and the loop moves on.
func (x *run) score(ctx context.Context, batches []domain.Batch, writer *ingest.Writer) error {
	bs := &x.sum.Batches
	bs.Total = len(batches)

	for i, b := range batches {
		if i > 0 {
			if err := wait(ctx, x.opts.RateLimitDelay); err != nil {
				return x.fail(StageFetchAttribution, err)
			}
		}
		batchLog := x.logCtx.WithFields(log.Fields{
			"batch":     fmt.Sprintf("%d/%d", i+1, len(batches)),
			"batch_key": idempotency.BatchKey(b),
			"journeys":  b.JourneyCount(),
			"sessions":  len(b),
		})

		if errs := journey.Validate(b); len(errs) > 0 {
			bs.Rejected++
			batchLog.WithError(domain.JoinFieldErrors(errs)).Error("Batch failed validation, not sent.")
			continue
		}
		credits, err := x.deps.Scorer.Score(ctx, b)
		if err == nil {
			err = gateway.ValidateCredits(credits)
		}
		if err != nil {
			if ctx.Err() != nil {
				return x.fail(StageFetchAttribution, ctx.Err())
			}
			bs.Failed++
			batchLog.WithError(err).Error("Batch attribution failed.")
			continue
		}
		if err := writer.Add(ctx, credits...); err != nil {
			return x.fail(StageStoreCredits, err)
		}
		bs.Succeeded++
		x.sum.CreditsReceived += len(credits)
		batchLog.WithField("credits", len(credits)).Info("Batch attributed.")
	}

	detail := fmt.Sprintf("%d/%d batches succeeded, %d failed, %d rejected", bs.Succeeded, bs.Total, bs.Failed, bs.Rejected)
	switch {
	case bs.Rejected == bs.Total:
		return x.fail(StageFetchAttribution, ErrInvalidJourneys)
	case x.sum.CreditsReceived == 0:
		return x.fail(StageFetchAttribution, ErrNoCredits)
	}
	x.sum.record(StageFetchAttribution, StageOK, true, detail)
	return nil
}

func (x *run) store(ctx context.Context, writer *ingest.Writer) error {
	if err := writer.Flush(ctx); err != nil {
		return x.fail(StageStoreCredits, err)
	}
	x.sum.CreditsStored = writer.Inserted()

	unbalanced, err := x.deps.Results.UnbalancedConversions(ctx, x.opts.SumTolerance)
	if err != nil {
		x.logCtx.WithError(err).Warn("Could not check credit sums.")
	}
	x.sum.Unbalanced = len(unbalanced)
	for _, u := range unbalanced {
		x.logCtx.WithFields(log.Fields{"conv_id": u.ConvID, "total_ihc": u.Total}).Warn("Credits do not sum to 1.")
	}
	x.sum.record(StageStoreCredits, StageOK, true, fmt.Sprintf("%d stored, %d duplicates dropped", x.sum.CreditsStored, writer.Duplicates()))
	return nil
}

func (x *run) channelReport(ctx context.Context, rng domain.DateRange) error {
	if _, err := x.deps.Reports.RebuildChannelReporting(ctx, rng); err != nil {
		return x.fail(StageChannelReport, err)
	}
	rows, err := x.deps.Reports.ChannelReport(ctx, rng, "")
	if err != nil {
		return x.fail(StageChannelReport, err)
	}
	if len(rows) == 0 {
		return x.fail(StageChannelReport, ErrEmptyReport)
	}
	metrics, err := report.Derive(rows)
	if err != nil {
		return x.fail(StageChannelReport, err)
	}
	if err := x.deps.Exporter.Export(metrics); err != nil {
		return x.fail(StageChannelReport, err)
	}

	x.sum.ReportRows = len(rows)
	x.sum.Totals = report.Totals(metrics)
	x.sum.ReportPath = x.deps.Exporter.Path()
	x.logCtx.WithFields(log.Fields{
		"rows":       len(rows),
		"path":       x.sum.ReportPath,
		"total_cost": x.sum.Totals.TotalCost.String(),
		"roas":       x.sum.Totals.ROAS.String(),
	}).Info("Channel report exported.")
	x.sum.record(StageChannelReport, StageOK, true, fmt.Sprintf("%d rows", len(rows)))
	return nil
}

// publish announces the finished run. It never fails the run.
func (x *run) publish(ctx context.Context) {
	if x.deps.Notifier == nil {
		return
	}
	env := notify.NewEnvelope(notify.RunCompletedKey, x.sum.RunID, x.sum)
	if err := x.deps.Notifier.Publish(context.WithoutCancel(ctx), notify.RunCompletedKey, env); err != nil {
		x.logCtx.WithError(err).Warn("Failed to publish run notification.")
		x.sum.record(StageNotify, StageFailed, false, err.Error())
		return
	}
	x.sum.record(StageNotify, StageOK, false, "")
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
