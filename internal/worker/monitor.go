package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CharanSaiVaddi/blockctl/internal/clock"
	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
)

// armMonitor schedules the next periodic tick. The monitor is independent of
// cooldown timers: it re-enters Running from the persisted record alone.
func (w *Worker) armMonitor() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.monitorOn || w.monitorHalted {
		return
	}
	stopTimer(&w.monitor)
	now := w.clock.Now()
	delay := w.schedule.Next(now).Sub(now)
	if delay <= 0 {
		delay = time.Second
	}
	w.monitor = w.clock.AfterFunc(delay, func() {
		w.mu.Lock()
		ctx := w.baseCtx
		w.monitor = nil
		w.mu.Unlock()
		w.Tick(ctx)
		w.armMonitor()
	})
}

// armCooldown publishes the remaining wait and schedules the next countdown
// step, or an immediate tick when the wait is over. Must be called with mu held.
func (w *Worker) armCooldown(jobID string) {
	stopTimer(&w.cooldown)
	if w.job == nil || w.job.ID != jobID || w.job.Abort {
		return
	}
	remaining := w.job.NextRunAt.Sub(w.clock.Now())
	if remaining <= 0 {
		w.cooldown = w.clock.AfterFunc(0, func() { w.onCooldownStep(jobID) })
		return
	}
	secs := int(math.Ceil(remaining.Seconds()))
	w.progress.Publish(progress.Event{
		Action:           progress.ActionUpdate,
		Current:          w.job.HandledCount(),
		Total:            w.job.TotalCount,
		Message:          fmt.Sprintf("Next account in %ds", secs),
		CountdownSeconds: progress.Countdown(secs),
	})
	step := remaining - time.Duration(secs-1)*time.Second
	w.cooldown = w.clock.AfterFunc(step, func() { w.onCooldownStep(jobID) })
}

func (w *Worker) onCooldownStep(jobID string) {
	w.mu.Lock()
	w.cooldown = nil
	if w.job == nil || w.job.ID != jobID || w.job.Abort {
		w.mu.Unlock()
		return
	}
	if w.clock.Now().Before(w.job.NextRunAt) {
		w.armCooldown(jobID)
		w.mu.Unlock()
		return
	}
	ctx := w.baseCtx
	w.mu.Unlock()
	w.Tick(ctx)
}

// Resume restores a persisted job on process start. Stale, aborted or
// inconsistent records are discarded.
func (w *Worker) Resume(ctx context.Context) error {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	w.mu.Lock()
	active := w.job != nil
	w.mu.Unlock()
	if active {
		return nil
	}

	j, err := w.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if j == nil {
		return nil
	}
	log := w.log.WithFields(logrus.Fields{"job_id": j.ID, "sources": j.SourceIDs})

	now := w.clock.Now()
	var reason string
	switch {
	case j.Abort:
		reason = "aborted"
	case j.Stale(now, w.cfg.StaleAfter):
		reason = "stale"
	case !j.Consistent():
		reason = "inconsistent"
	case j.ErrorCount >= w.cfg.MaxErrors:
		reason = "error ceiling reached"
	}
	if reason != "" {
		log.WithField("reason", reason).Info("discarding persisted job")
		return w.store.Clear(ctx)
	}

	w.mu.Lock()
	w.setState(job.StatePreparing)
	w.mu.Unlock()

	if !j.HasWork() {
		if ok := w.reprepare(ctx, j, log); !ok {
			w.mu.Lock()
			w.setState(job.StateIdle)
			w.mu.Unlock()
			log.Warn("no target list could be fetched; discarding persisted job")
			return w.store.Clear(ctx)
		}
	}

	j.Timestamp = now
	if j.NextRunAt.IsZero() {
		j.NextRunAt = now
	}
	if err := w.store.Save(ctx, j); err != nil {
		w.mu.Lock()
		w.setState(job.StateIdle)
		w.mu.Unlock()
		return fmt.Errorf("persist resumed job: %w", err)
	}

	w.mu.Lock()
	w.job = j
	if !j.HasWork() {
		w.mu.Unlock()
		w.complete(ctx)
		return nil
	}
	w.setState(job.StateRunning)
	w.armCooldown(j.ID)
	current, total := j.HandledCount(), j.TotalCount
	w.mu.Unlock()

	log.WithFields(logrus.Fields{"processed": len(j.ProcessedUsernames), "total": total}).Info("job resumed")
	w.progress.Publish(progress.Event{
		Action:  progress.ActionShow,
		Current: current,
		Total:   total,
		Message: fmt.Sprintf("Resuming: %d of %d accounts done", current, total),
		Icon:    j.Mode.String(),
	})
	return nil
}

// reprepare rebuilds the pending queue from every source item of the job.
func (w *Worker) reprepare(ctx context.Context, j *job.Job, log logrus.FieldLogger) bool {
	var all []string
	fetched := 0
	for _, sid := range j.SourceIDs {
		targets, err := w.lister.FetchTargets(ctx, sid)
		if err != nil {
			log.WithFields(logrus.Fields{"source_id": sid, "error": err}).Warn("refetch target list")
			continue
		}
		fetched++
		all = append(all, targets...)
	}
	if fetched == 0 {
		return false
	}
	j.Repend(all)
	j.RecomputeTotal()
	return true
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
