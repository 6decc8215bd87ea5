package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/CharanSaiVaddi/blockctl/internal/clock"
	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
	"github.com/CharanSaiVaddi/blockctl/internal/remote"
	"github.com/CharanSaiVaddi/blockctl/internal/storage"
)

// TargetLister builds the target list of a source item.
type TargetLister interface {
	FetchTargets(ctx context.Context, sourceID string) ([]string, error)
}

// UnitProcessor runs one unit of work against the forum.
type UnitProcessor interface {
	ProcessUnit(ctx context.Context, t job.TargetUser, p remote.UnitParams) remote.Outcome
}

// Config for worker behavior
type Config struct {
	InterUnitDelay  time.Duration
	MaxErrors       int
	StaleAfter      time.Duration
	MonitorSchedule string
	HideDelay       time.Duration
}

func (c Config) withDefaults() Config {
	if c.InterUnitDelay <= 0 {
		c.InterUnitDelay = 3 * time.Second
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	if c.MonitorSchedule == "" {
		c.MonitorSchedule = "@every 5s"
	}
	if c.HideDelay <= 0 {
		c.HideDelay = 5 * time.Second
	}
	return c
}

type StartRequest struct {
	SourceID              string
	Mode                  job.Mode
	IncludeThreadBlocking bool
	CustomNote            string
}

// Result is the synchronous answer to a start request.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

type Status struct {
	IsProcessing   bool      `json:"isProcessing"`
	SourceIDs      []string  `json:"sourceIds"`
	ProcessedCount int       `json:"processedCount"`
	SkippedCount   int       `json:"skippedCount"`
	ErrorCount     int       `json:"errorCount"`
	TotalCount     int       `json:"totalCount"`
	Mode           job.Mode  `json:"mode,omitempty"`
	State          job.State `json:"state"`
}

// Worker owns the single batch job. It is built once per process; all of
// its progress lives in the persisted job record so a fresh Worker can pick
// up where a torn-down one stopped.
type Worker struct {
	store    storage.Storage
	lister   TargetLister
	units    UnitProcessor
	progress progress.Publisher
	clock    clock.Clock
	log      logrus.FieldLogger
	cfg      Config
	schedule cron.Schedule

	// held for the duration of a tick; a tick that cannot take it is a no-op
	guard *semaphore.Weighted
	// serializes start and merge requests
	startMu sync.Mutex

	mu            sync.Mutex
	baseCtx       context.Context
	job           *job.Job
	state         job.State
	silentAbort   bool
	cooldown      clock.Timer
	monitor       clock.Timer
	monitorOn     bool
	monitorHalted bool
}

func NewWorker(store storage.Storage, lister TargetLister, units UnitProcessor, pub progress.Publisher, clk clock.Clock, log logrus.FieldLogger, cfg Config) (*Worker, error) {
	cfg = cfg.withDefaults()
	schedule, err := cron.ParseStandard(cfg.MonitorSchedule)
	if err != nil {
		return nil, fmt.Errorf("monitor schedule %q: %w", cfg.MonitorSchedule, err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if pub == nil {
		pub = progress.NewBroker()
	}
	return &Worker{
		store:    store,
		lister:   lister,
		units:    units,
		progress: pub,
		clock:    clk,
		log:      log,
		cfg:      cfg,
		schedule: schedule,
		guard:    semaphore.NewWeighted(1),
		baseCtx:  context.Background(),
		state:    job.StateIdle,
	}, nil
}

// Open resumes a persisted job if there is a usable one and arms the
// monitor tick. It does not block.
func (w *Worker) Open(ctx context.Context) error {
	w.mu.Lock()
	w.baseCtx = ctx
	w.monitorOn = true
	w.monitorHalted = false
	w.mu.Unlock()

	err := w.Resume(ctx)
	w.armMonitor()
	return err
}

// Run opens the worker and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Open(ctx); err != nil {
		w.log.WithError(err).Warn("resume failed")
	}
	<-ctx.Done()

	w.mu.Lock()
	w.monitorOn = false
	stopTimer(&w.monitor)
	stopTimer(&w.cooldown)
	w.mu.Unlock()
	w.log.Info("worker: shutting down")
	return nil
}

// Start begins a new job, or merges the request into the running one.
func (w *Worker) Start(ctx context.Context, req StartRequest) Result {
	if req.SourceID == "" {
		return failure(errors.New("source id is required"))
	}
	if _, err := job.ParseMode(req.Mode.String()); err != nil {
		return failure(err)
	}

	w.startMu.Lock()
	defer w.startMu.Unlock()

	w.mu.Lock()
	active := w.job != nil
	w.mu.Unlock()
	if active {
		return w.merge(ctx, req)
	}

	w.mu.Lock()
	w.setState(job.StatePreparing)
	w.mu.Unlock()

	targets, err := w.lister.FetchTargets(ctx, req.SourceID)
	if err != nil {
		w.mu.Lock()
		w.setState(job.StateIdle)
		w.mu.Unlock()
		msg := describeListError(req.SourceID, err)
		w.log.WithFields(logrus.Fields{"source_id": req.SourceID, "error": err}).Warn("target list fetch failed")
		w.progress.Publish(progress.Event{Action: progress.ActionHide, Message: msg, Icon: "warning"})
		return Result{Error: msg, Err: err}
	}
	return w.begin(ctx, req, targets)
}

// begin persists a fresh job built from an already fetched target list.
func (w *Worker) begin(ctx context.Context, req StartRequest, targets []string) Result {
	j := job.New(req.SourceID, req.Mode, req.IncludeThreadBlocking, req.CustomNote)
	j.Repend(targets)
	j.RecomputeTotal()
	now := w.clock.Now()
	j.Timestamp = now
	j.NextRunAt = now

	w.mu.Lock()
	if w.state == job.StateIdle {
		w.setState(job.StatePreparing)
	}
	if err := w.store.Save(ctx, j); err != nil {
		w.setState(job.StateIdle)
		w.mu.Unlock()
		w.log.WithError(err).Error("persist new job")
		return failure(fmt.Errorf("could not persist job: %w", err))
	}
	w.job = j
	w.silentAbort = false
	w.setState(job.StateRunning)
	total := j.TotalCount
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{"job_id": j.ID, "source_id": req.SourceID, "mode": req.Mode, "total": total}).Info("job started")
	msg := fmt.Sprintf("Starting: %d accounts to %s", total, req.Mode)
	w.progress.Publish(progress.Event{Action: progress.ActionShow, Current: 0, Total: total, Message: msg, Icon: req.Mode.String()})

	w.mu.Lock()
	w.armCooldown(j.ID)
	w.mu.Unlock()
	return Result{Success: true, Message: msg}
}

// Tick runs at most one unit of work. It is safe to call at any time and
// from any goroutine; overlapping calls are no-ops.
func (w *Worker) Tick(ctx context.Context) {
	if !w.guard.TryAcquire(1) {
		return
	}
	defer w.guard.Release(1)

	w.mu.Lock()
	j := w.job
	if j == nil {
		w.mu.Unlock()
		return
	}
	if j.Abort {
		w.mu.Unlock()
		w.finishAborted(ctx, "Stopped", w.silent())
		return
	}
	now := w.clock.Now()
	if now.Before(j.NextRunAt) {
		// cooling down; after a restart no timer exists yet
		if w.cooldown == nil {
			w.armCooldown(j.ID)
		}
		w.mu.Unlock()
		return
	}
	target, ok := j.NextTarget()
	if !ok {
		w.mu.Unlock()
		w.complete(ctx)
		return
	}
	jobID := j.ID
	params := remote.UnitParams{
		Mode:                  j.Mode,
		IncludeThreadBlocking: j.IncludeThreadBlocking,
		CustomNote:            j.CustomNote,
		SourceIDs:             append([]string(nil), j.SourceIDs...),
	}
	w.setState(job.StateRunning)
	w.mu.Unlock()

	log := w.log.WithFields(logrus.Fields{"job_id": jobID, "username": target.Username})
	out := w.units.ProcessUnit(ctx, target, params)

	w.mu.Lock()
	if w.job == nil || w.job.ID != jobID {
		w.mu.Unlock()
		log.WithField("outcome", out.Kind.String()).Info("discarding unit result of a cleared job")
		return
	}
	j = w.job
	if j.Abort {
		w.mu.Unlock()
		log.WithField("outcome", out.Kind.String()).Info("discarding unit result of a stopped job")
		w.finishAborted(ctx, "Stopped", w.silent())
		return
	}

	var msg string
	switch out.Kind {
	case remote.Processed:
		j.MarkProcessed(target)
		msg = fmt.Sprintf("%s %s", capitalize(j.Mode.PastTense()), target.Username)
		log.Info("unit processed")
	case remote.Skipped:
		j.MarkSkipped(target)
		msg = fmt.Sprintf("Skipped %s: %s", target.Username, out.Reason)
		log.Info("unit skipped")
	default:
		j.MarkFailed(target, out.Reason)
		msg = fmt.Sprintf("Failed %s (%d/%d errors)", target.Username, j.ErrorCount, w.cfg.MaxErrors)
		log.WithError(out.Err).WithField("error_count", j.ErrorCount).Warn("unit failed")
	}

	now = w.clock.Now()
	j.Timestamp = now
	aborting := j.ErrorCount >= w.cfg.MaxErrors
	more := j.HasWork()
	if more && !aborting {
		j.NextRunAt = now.Add(w.cfg.InterUnitDelay)
	}
	if err := w.store.Save(ctx, j); err != nil {
		log.WithError(err).Error("persist unit outcome")
	}
	current, total := j.HandledCount(), j.TotalCount
	w.mu.Unlock()

	w.progress.Publish(progress.Event{Action: progress.ActionUpdate, Current: current, Total: total, Message: msg})

	switch {
	case aborting:
		w.finishAborted(ctx, fmt.Sprintf("Aborted after %d errors", w.cfg.MaxErrors), false)
	case more:
		w.mu.Lock()
		owned := w.job != nil && w.job.ID == jobID
		stopped := owned && w.job.Abort
		if owned && !stopped {
			w.setState(job.StateCooldown)
			w.armCooldown(jobID)
		}
		w.mu.Unlock()
		if stopped {
			w.finishAborted(ctx, "Stopped", w.silent())
		}
	default:
		w.complete(ctx)
	}
}

// Stop aborts the running job. A unit already in flight finishes, its
// result is discarded and the job is cleared once it settles.
func (w *Worker) Stop() {
	w.abort(false)
}

// ForceStop aborts like Stop and also halts the monitor tick. The hide
// signal is published immediately instead of when the job settles.
func (w *Worker) ForceStop() {
	w.mu.Lock()
	w.monitorHalted = true
	stopTimer(&w.monitor)
	w.mu.Unlock()

	w.abort(true)
	w.progress.Publish(progress.Event{Action: progress.ActionHide, Message: "Force stopped", Icon: "stop"})
}

func (w *Worker) abort(silent bool) {
	w.mu.Lock()
	j := w.job
	if j == nil {
		w.mu.Unlock()
		return
	}
	j.Abort = true
	w.silentAbort = w.silentAbort || silent
	stopTimer(&w.cooldown)
	if err := w.store.Save(w.baseCtx, j); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("persist abort")
	}
	w.mu.Unlock()

	if w.guard.TryAcquire(1) {
		w.finishAborted(w.baseCtx, "Stopped", w.silent())
		w.guard.Release(1)
	}
}

// ResetStuckState drops whatever job is held in memory or in the store and
// returns the worker to idle with a running monitor.
func (w *Worker) ResetStuckState() {
	w.mu.Lock()
	if w.job != nil {
		w.log.WithField("job_id", w.job.ID).Warn("resetting job state")
	}
	w.job = nil
	w.silentAbort = false
	stopTimer(&w.cooldown)
	if err := w.store.Clear(w.baseCtx); err != nil {
		w.log.WithError(err).Error("clear job state")
	}
	w.state = job.StateIdle
	rearm := w.monitorHalted
	w.monitorHalted = false
	w.mu.Unlock()

	if rearm {
		w.armMonitor()
	}
	w.progress.Publish(progress.Event{Action: progress.ActionHide, Message: "Reset"})
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{State: w.state, SourceIDs: []string{}}
	if w.job == nil {
		return st
	}
	st.IsProcessing = true
	st.SourceIDs = append(st.SourceIDs, w.job.SourceIDs...)
	st.ProcessedCount = len(w.job.ProcessedUsernames)
	st.SkippedCount = len(w.job.SkippedUsernames)
	st.ErrorCount = w.job.ErrorCount
	st.TotalCount = w.job.TotalCount
	st.Mode = w.job.Mode
	return st
}

func (w *Worker) complete(ctx context.Context) {
	w.mu.Lock()
	j := w.job
	if j == nil {
		w.mu.Unlock()
		return
	}
	if j.HasWork() {
		// a merge added targets after the last unit was taken
		j.NextRunAt = w.clock.Now().Add(w.cfg.InterUnitDelay)
		w.setState(job.StateCooldown)
		w.armCooldown(j.ID)
		w.mu.Unlock()
		return
	}
	w.setState(job.StateCompleting)
	summary := fmt.Sprintf("Done: %d %s, %d skipped of %d", len(j.ProcessedUsernames), j.Mode.PastTense(), len(j.SkippedUsernames), j.TotalCount)
	if n := len(j.FailedUsernames); n > 0 {
		summary += fmt.Sprintf(", %d failed", n)
	}
	current, total := j.HandledCount(), j.TotalCount
	if err := w.store.Clear(ctx); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("clear completed job")
	}
	w.job = nil
	stopTimer(&w.cooldown)
	w.setState(job.StateIdle)
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{"job_id": j.ID, "processed": len(j.ProcessedUsernames), "skipped": len(j.SkippedUsernames), "total": total}).Info("job completed")
	w.progress.Publish(progress.Event{Action: progress.ActionUpdate, Current: current, Total: total, Message: summary, Icon: "check"})
	w.clock.AfterFunc(w.cfg.HideDelay, func() {
		w.mu.Lock()
		idle := w.job == nil
		w.mu.Unlock()
		if idle {
			w.progress.Publish(progress.Event{Action: progress.ActionHide, Current: current, Total: total, Message: summary})
		}
	})
}

func (w *Worker) finishAborted(ctx context.Context, reason string, silent bool) {
	w.mu.Lock()
	j := w.job
	if j == nil {
		w.mu.Unlock()
		return
	}
	w.setState(job.StateAborted)
	if err := w.store.Clear(ctx); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("clear aborted job")
	}
	w.job = nil
	w.silentAbort = false
	stopTimer(&w.cooldown)
	w.setState(job.StateIdle)
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{"job_id": j.ID, "reason": reason, "error_count": j.ErrorCount, "last_error": j.LastError}).Warn("job aborted")
	if !silent {
		w.progress.Publish(progress.Event{Action: progress.ActionHide, Current: j.HandledCount(), Total: j.TotalCount, Message: reason, Icon: "stop"})
	}
}

func (w *Worker) silent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.silentAbort
}

// setState must be called with mu held.
func (w *Worker) setState(to job.State) {
	if w.state == to {
		return
	}
	if !job.IsValidTransition(w.state, to) {
		w.log.WithFields(logrus.Fields{"from": w.state, "to": to}).Warn("unexpected state transition")
	}
	w.log.WithFields(logrus.Fields{"from": w.state, "to": to}).Debug("state")
	w.state = to
}

func failure(err error) Result {
	return Result{Error: err.Error(), Err: err}
}

func describeListError(sourceID string, err error) string {
	var lfe *remote.ListFetchError
	if !errors.As(err, &lfe) {
		return fmt.Sprintf("Could not fetch favorites of post %s: %v", sourceID, err)
	}
	switch lfe.Kind {
	case remote.NoFavorites:
		return fmt.Sprintf("Post %s has no favorites", sourceID)
	case remote.EntryNotFound:
		return fmt.Sprintf("Post %s not found", sourceID)
	default:
		return fmt.Sprintf("Could not read favorites of post %s", sourceID)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
