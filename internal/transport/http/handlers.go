package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/attribution/internal/config"
	"example.com/attribution/internal/domain"
	"example.com/attribution/internal/pipeline"
	"example.com/attribution/internal/report"

	log "github.com/sirupsen/logrus"
)

type Store interface {
	Ready(ctx context.Context) error
	ChannelReport(ctx context.Context, r domain.DateRange, channel string) ([]domain.ChannelReportRow, error)
}

type Runner interface {
	Run(ctx context.Context, r domain.DateRange) (pipeline.Summary, error)
	Busy() bool
}

type ServerDeps struct {
	Cfg    config.Config
	Store  Store
	Runner Runner
	Now    func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// --- Reports ---

type channelReportResp struct {
	Range  domain.DateRange `json:"range"`
	Rows   []report.Metrics `json:"rows"`
	Totals report.Summary   `json:"totals"`
}

func (d *ServerDeps) HandleGetChannelReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	rng := domain.DateRange{
		Start: strings.TrimSpace(q.Get("start_date")),
		End:   strings.TrimSpace(q.Get("end_date")),
	}
	channel := strings.TrimSpace(q.Get("channel"))
	if errs := rng.Validate(); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "one or more parameters are invalid", fieldProblems(errs))
		return
	}

	rows, err := d.Store.ChannelReport(r.Context(), rng, channel)
	if err != nil {
		log.WithError(err).Error("Channel report query failed.")
		WriteProblem(w, http.StatusInternalServerError, "query error", err.Error(), nil)
		return
	}
	metrics, err := report.Derive(rows)
	if err != nil {
		WriteProblem(w, http.StatusInternalServerError, "report error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", channelReportResp{
		Range:  rng,
		Rows:   metrics,
		Totals: report.Totals(metrics),
	})
}

// --- Runs ---

type runReq struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// HandlePostRun runs the pipeline synchronously. Only one run may be active.
func (d *ServerDeps) HandlePostRun(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req runReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	rng := domain.DateRange{Start: strings.TrimSpace(req.StartDate), End: strings.TrimSpace(req.EndDate)}
	if errs := rng.Validate(); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldProblems(errs))
		return
	}
	if d.Runner.Busy() {
		WriteProblem(w, http.StatusConflict, "run in progress", pipeline.ErrRunInProgress.Error(), nil)
		return
	}

	log.WithField("range", rng.String()).Info("Run requested over API.")
	sum, err := d.Runner.Run(r.Context(), rng)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		WriteProblem(w, http.StatusConflict, "run in progress", err.Error(), nil)
	case err != nil:
		WriteProblemMeta(w, http.StatusUnprocessableEntity, "run failed", err.Error(), map[string]any{"summary": sum})
	default:
		writeJSON(w, http.StatusOK, "application/json", sum)
	}
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.HandleHealthz)
	mux.HandleFunc("/readyz", d.HandleReadyz)

	var getReport http.Handler = http.HandlerFunc(d.HandleGetChannelReport)
	getReport = RateLimitPerMinute(d.Cfg.RateLimitReportsPerMin, d.Now)(getReport)
	getReport = APIKeyAuth(d.Cfg.APIKeys)(getReport)
	mux.Handle("/reports/channels", getReport)

	var postRun http.Handler = http.HandlerFunc(d.HandlePostRun)
	postRun = BodyLimit(d.Cfg.MaxBodyBytes)(postRun)
	postRun = RequireJSON(postRun)
	postRun = APIKeyAuth(d.Cfg.APIKeys)(postRun)
	mux.Handle("/runs", postRun)

	return mux
}
