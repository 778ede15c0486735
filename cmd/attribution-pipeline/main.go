package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/attribution/internal/app"
	"example.com/attribution/internal/config"
	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/logging"

	log "github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	startDate := flag.String("start_date", "", "First conversion date to process, YYYY-MM-DD. Empty for no lower bound.")
	endDate := flag.String("end_date", "", "Last conversion date to process, YYYY-MM-DD. Empty for no upper bound.")
	outputPath := flag.String("output_path", cfg.ReportOutputPath, "Channel report destination; .xlsx writes a workbook, anything else CSV.")
	rateLimitDelay := flag.Float64("rate_limit_delay", cfg.RateLimitDelay.Seconds(), "Seconds to wait between attribution requests.")
	storeKind := flag.String("store", app.StorePostgres, "Backend: postgres or memory.")
	seed := flag.String("seed", "", "JSON seed file for -store=memory.")
	printSummary := flag.Bool("summary", false, "Print the run summary as JSON on stdout.")
	flag.Parse()

	cfg.ReportOutputPath = *outputPath
	cfg.RateLimitDelay = time.Duration(*rateLimitDelay * float64(time.Second))

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closer.Close()

	logCtx := log.WithField("prefix", "attribution-pipeline")
	rng := domain.DateRange{Start: *startDate, End: *endDate}
	if errs := rng.Validate(); len(errs) > 0 {
		logCtx.WithError(domain.JoinFieldErrors(errs)).Error("Invalid date range.")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, *storeKind, *seed)
	if err != nil {
		logCtx.WithError(err).Error("Failed to initialise pipeline.")
		return 1
	}
	defer a.Close()

	sum, err := a.Runner.Run(ctx, rng)
	for _, st := range sum.Stages {
		logCtx.WithFields(log.Fields{"stage": st.Name, "status": st.Status, "detail": st.Detail}).Info("Stage result.")
	}
	if *printSummary {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	}
	if err != nil || !sum.OK() {
		logCtx.WithError(err).Error("Pipeline failed.")
		return 1
	}
	logCtx.WithField("report", sum.ReportPath).Info("Pipeline completed successfully.")
	return 0
}
