package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CharanSaiVaddi/blockctl/internal/job"
)

// Remote is the set of forum calls a unit of work is composed of.
type Remote interface {
	Resolve(ctx context.Context, targetURL string) (string, error)
	Act(ctx context.Context, accountID string, mode job.Mode) error
	BlockThreads(ctx context.Context, accountID string) error
	Annotate(ctx context.Context, username, accountID, note string) error
}

type OutcomeKind int

const (
	Processed OutcomeKind = iota
	Skipped
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// UnitParams are the job-level settings a unit runs with.
type UnitParams struct {
	Mode                  job.Mode
	IncludeThreadBlocking bool
	CustomNote            string
	SourceIDs             []string
}

type Executor struct {
	remote Remote
}

func NewExecutor(r Remote) *Executor {
	return &Executor{remote: r}
}

// ProcessUnit runs resolve, act, optional thread block and annotate for one
// target. The first failing step ends the unit.
func (e *Executor) ProcessUnit(ctx context.Context, t job.TargetUser, p UnitParams) Outcome {
	accountID, err := e.remote.Resolve(ctx, t.URL)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Outcome{Kind: Skipped, Reason: "account no longer exists", Err: err}
		}
		return failed("resolve", err)
	}
	if err := e.remote.Act(ctx, accountID, p.Mode); err != nil {
		return failed(p.Mode.String(), err)
	}
	if p.IncludeThreadBlocking {
		if err := e.remote.BlockThreads(ctx, accountID); err != nil {
			return failed("block threads", err)
		}
	}
	if err := e.remote.Annotate(ctx, t.Username, accountID, NoteText(p, t.Username)); err != nil {
		return failed("annotate", err)
	}
	return Outcome{Kind: Processed}
}

func failed(step string, err error) Outcome {
	return Outcome{Kind: Failed, Reason: fmt.Sprintf("%s failed: %v", step, err), Err: err}
}

// NoteText renders the custom note, or the default one naming the source
// posts and the mode. Custom notes may use {sources}, {mode} and {username}.
func NoteText(p UnitParams, username string) string {
	sources := strings.Join(p.SourceIDs, ", ")
	if p.CustomNote != "" {
		return strings.NewReplacer(
			"{sources}", sources,
			"{mode}", p.Mode.String(),
			"{username}", username,
		).Replace(p.CustomNote)
	}
	noun := "post"
	if len(p.SourceIDs) > 1 {
		noun = "posts"
	}
	return fmt.Sprintf("Auto-%s: favorited %s %s", p.Mode.PastTense(), noun, sources)
}
