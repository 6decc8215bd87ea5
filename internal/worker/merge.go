package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
)

type MergeRejection string

const (
	DuplicateSource    MergeRejection = "duplicate-source"
	IncompatibleParams MergeRejection = "incompatible-mode"
	NoActiveJob        MergeRejection = "no-active-job"
)

// MergeRejectedError is returned when a start request cannot join the
// running job.
type MergeRejectedError struct {
	SourceID string
	Reason   MergeRejection
}

func (e *MergeRejectedError) Error() string {
	switch e.Reason {
	case DuplicateSource:
		return fmt.Sprintf("post %s is already part of the running job", e.SourceID)
	case IncompatibleParams:
		return fmt.Sprintf("post %s uses a different mode or thread setting than the running job", e.SourceID)
	default:
		return fmt.Sprintf("post %s: no running job to merge into", e.SourceID)
	}
}

// CanMerge reports whether a request for sourceID could join the running job.
func (w *Worker) CanMerge(sourceID string, mode job.Mode, includeThreadBlocking bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkMerge(sourceID, mode, includeThreadBlocking) == nil
}

// checkMerge must be called with mu held.
func (w *Worker) checkMerge(sourceID string, mode job.Mode, includeThreadBlocking bool) error {
	j := w.job
	switch {
	case j == nil || j.Abort:
		return &MergeRejectedError{SourceID: sourceID, Reason: NoActiveJob}
	case j.HasSource(sourceID):
		return &MergeRejectedError{SourceID: sourceID, Reason: DuplicateSource}
	case j.Mode != mode || j.IncludeThreadBlocking != includeThreadBlocking:
		return &MergeRejectedError{SourceID: sourceID, Reason: IncompatibleParams}
	}
	return nil
}

// merge folds a new source item into the running job. Callers hold startMu.
func (w *Worker) merge(ctx context.Context, req StartRequest) Result {
	w.mu.Lock()
	err := w.checkMerge(req.SourceID, req.Mode, req.IncludeThreadBlocking)
	w.mu.Unlock()
	if err != nil {
		w.log.WithFields(logrus.Fields{"source_id": req.SourceID, "error": err}).Info("merge rejected")
		return failure(err)
	}

	targets, err := w.lister.FetchTargets(ctx, req.SourceID)
	if err != nil {
		msg := describeListError(req.SourceID, err)
		w.log.WithFields(logrus.Fields{"source_id": req.SourceID, "error": err}).Warn("target list fetch failed during merge")
		return Result{Error: msg, Err: err}
	}

	w.mu.Lock()
	if w.job == nil {
		// the running job finished while the list was being fetched
		w.mu.Unlock()
		return w.begin(ctx, req, targets)
	}
	if err := w.checkMerge(req.SourceID, req.Mode, req.IncludeThreadBlocking); err != nil {
		w.mu.Unlock()
		return failure(err)
	}
	j := w.job
	known := j.KnownUsernames()
	added := 0
	for _, t := range targets {
		u := job.DeriveUsername(t)
		if _, ok := known[u]; ok || u == "" {
			continue
		}
		known[u] = struct{}{}
		j.PendingTargets = append(j.PendingTargets, t)
		added++
	}
	j.SourceIDs = append(j.SourceIDs, req.SourceID)
	j.RecomputeTotal()
	j.Timestamp = w.clock.Now()
	if err := w.store.Save(ctx, j); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Error("persist merged job")
	}
	current, total := j.HandledCount(), j.TotalCount
	noteKept := req.CustomNote != "" && req.CustomNote != j.CustomNote
	jobID := j.ID
	w.mu.Unlock()

	msg := fmt.Sprintf("Added %d new accounts from post %s", added, req.SourceID)
	if noteKept {
		msg += " (the running job's note is kept)"
	}
	w.log.WithFields(logrus.Fields{"job_id": jobID, "source_id": req.SourceID, "added": added, "total": total}).Info("merged into running job")
	w.progress.Publish(progress.Event{Action: progress.ActionUpdate, Current: current, Total: total, Message: msg})
	return Result{Success: true, Message: msg}
}
