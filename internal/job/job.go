package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode is the remote action applied to every target of a job.
type Mode string

const (
	ModeMute  Mode = "mute"
	ModeBlock Mode = "block"
)

func (m Mode) String() string {
	return string(m)
}

// PastTense is used in notes and progress messages.
func (m Mode) PastTense() string {
	if m == ModeBlock {
		return "blocked"
	}
	return "muted"
}

// ParseMode accepts "mute" or "block".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMute, ModeBlock:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: want mute or block", s)
}

// Job is the single persisted record describing an in-flight batch.
type Job struct {
	ID                    string    `json:"id"`
	SourceIDs             []string  `json:"sourceIds"`
	Mode                  Mode      `json:"mode"`
	IncludeThreadBlocking bool      `json:"includeThreadBlocking"`
	CustomNote            string    `json:"customNote,omitempty"`
	ProcessedUsernames    []string  `json:"processedUsernames"`
	SkippedUsernames      []string  `json:"skippedUsernames"`
	FailedUsernames       []string  `json:"failedUsernames,omitempty"`
	PendingTargets        []string  `json:"pendingTargets,omitempty"`
	TotalCount            int       `json:"totalCount"`
	ErrorCount            int       `json:"errorCount"`
	Abort                 bool      `json:"abort"`
	NextRunAt             time.Time `json:"nextRunAt,omitzero"`
	Timestamp             time.Time `json:"timestamp"`
	LastError             string    `json:"lastError,omitempty"`
}

func New(sourceID string, mode Mode, includeThreadBlocking bool, customNote string) *Job {
	return &Job{
		ID:                    uuid.New().String(),
		SourceIDs:             []string{sourceID},
		Mode:                  mode,
		IncludeThreadBlocking: includeThreadBlocking,
		CustomNote:            customNote,
		ProcessedUsernames:    []string{},
		SkippedUsernames:      []string{},
	}
}

func (j *Job) HasSource(sourceID string) bool {
	return contains(j.SourceIDs, sourceID)
}

func (j *Job) IsProcessed(username string) bool {
	return contains(j.ProcessedUsernames, username)
}

func (j *Job) IsSkipped(username string) bool {
	return contains(j.SkippedUsernames, username)
}

// Done reports whether username was already attempted to a final outcome
// (processed or skipped). Failed usernames are retried on re-preparation.
func (j *Job) Done(username string) bool {
	return j.IsProcessed(username) || j.IsSkipped(username)
}

// KnownUsernames is the union of every username the job has ever been given.
func (j *Job) KnownUsernames() map[string]struct{} {
	known := make(map[string]struct{}, j.TotalCount)
	for _, set := range [][]string{j.ProcessedUsernames, j.SkippedUsernames, j.FailedUsernames} {
		for _, u := range set {
			known[u] = struct{}{}
		}
	}
	for _, t := range j.PendingTargets {
		known[DeriveUsername(t)] = struct{}{}
	}
	return known
}

// RecomputeTotal sets TotalCount to the size of the deduplicated union.
func (j *Job) RecomputeTotal() {
	j.TotalCount = len(j.KnownUsernames())
}

// MarkProcessed records a successful unit and drops the target from pending.
func (j *Job) MarkProcessed(t TargetUser) {
	j.dropPending(t)
	j.FailedUsernames = remove(j.FailedUsernames, t.Username)
	j.ProcessedUsernames = appendUnique(j.ProcessedUsernames, t.Username)
}

func (j *Job) MarkSkipped(t TargetUser) {
	j.dropPending(t)
	j.FailedUsernames = remove(j.FailedUsernames, t.Username)
	j.SkippedUsernames = appendUnique(j.SkippedUsernames, t.Username)
}

func (j *Job) MarkFailed(t TargetUser, reason string) {
	j.dropPending(t)
	j.FailedUsernames = appendUnique(j.FailedUsernames, t.Username)
	j.ErrorCount++
	j.LastError = reason
}

// Repend replaces the pending queue with targets not yet handled, keeping
// fetch order and dropping duplicate usernames. Failed usernames that are
// queued again leave the failed set.
func (j *Job) Repend(targets []string) {
	seen := make(map[string]struct{}, len(targets))
	pending := make([]string, 0, len(targets))
	for _, t := range targets {
		u := DeriveUsername(t)
		if _, dup := seen[u]; dup || u == "" || j.Done(u) {
			continue
		}
		seen[u] = struct{}{}
		pending = append(pending, t)
		j.FailedUsernames = remove(j.FailedUsernames, u)
	}
	j.PendingTargets = pending
}

// NextTarget returns the first pending target whose username has not been
// handled yet, discarding handled ones it walks past.
func (j *Job) NextTarget() (TargetUser, bool) {
	for len(j.PendingTargets) > 0 {
		t := NewTargetUser(j.PendingTargets[0])
		if !j.Done(t.Username) {
			return t, true
		}
		j.PendingTargets = j.PendingTargets[1:]
	}
	return TargetUser{}, false
}

// HasWork reports whether any pending target still needs a unit.
func (j *Job) HasWork() bool {
	for _, u := range j.PendingTargets {
		if !j.Done(DeriveUsername(u)) {
			return true
		}
	}
	return false
}

// Consistent reports whether a persisted record can be resumed.
func (j *Job) Consistent() bool {
	return j.TotalCount > 0 && len(j.ProcessedUsernames) < j.TotalCount && len(j.SourceIDs) > 0
}

func (j *Job) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(j.Timestamp) >= window
}

// HandledCount is the number of targets that reached a terminal outcome.
func (j *Job) HandledCount() int {
	return len(j.ProcessedUsernames) + len(j.SkippedUsernames) + len(j.FailedUsernames)
}

func (j *Job) dropPending(t TargetUser) {
	out := j.PendingTargets[:0]
	for _, u := range j.PendingTargets {
		if DeriveUsername(u) != t.Username {
			out = append(out, u)
		}
	}
	j.PendingTargets = out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(set []string, v string) []string {
	if contains(set, v) {
		return set
	}
	return append(set, v)
}

func remove(set []string, v string) []string {
	out := set[:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
