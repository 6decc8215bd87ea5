package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveUsername(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "plain", url: "https://forum.example/u/alice", want: "alice"},
		{name: "trailing slash", url: "https://forum.example/u/Bob/", want: "bob"},
		{name: "query and fragment", url: "https://forum.example/u/carol?tab=posts#top", want: "carol"},
		{name: "escaped", url: "https://forum.example/u/d%C3%A9j%C3%A0", want: "déjà"},
		{name: "relative", url: "/u/eve", want: "eve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveUsername(tt.url))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("mute")
	require.NoError(t, err)
	assert.Equal(t, ModeMute, m)

	_, err = ParseMode("ban")
	assert.Error(t, err)
}

func TestNextTargetSkipsHandled(t *testing.T) {
	j := New("100", ModeMute, false, "")
	j.Repend([]string{"https://f/u/a", "https://f/u/b", "https://f/u/c"})
	j.ProcessedUsernames = append(j.ProcessedUsernames, "a")

	next, ok := j.NextTarget()
	require.True(t, ok)
	assert.Equal(t, "b", next.Username)
	assert.Equal(t, []string{"https://f/u/b", "https://f/u/c"}, j.PendingTargets)
}

func TestRependDedupAndOrder(t *testing.T) {
	j := New("100", ModeBlock, false, "")
	j.ProcessedUsernames = []string{"a", "b"}
	j.FailedUsernames = []string{"d"}

	j.Repend([]string{"https://f/u/a", "https://f/u/c", "https://f/u/b", "https://f/u/D", "https://f/u/c", "https://f/u/e"})

	assert.Equal(t, []string{"https://f/u/c", "https://f/u/D", "https://f/u/e"}, j.PendingTargets)
	assert.Empty(t, j.FailedUsernames)
}

func TestMarkOutcomesKeepInvariant(t *testing.T) {
	j := New("100", ModeMute, false, "")
	j.Repend([]string{"https://f/u/a", "https://f/u/b", "https://f/u/c"})
	j.RecomputeTotal()
	require.Equal(t, 3, j.TotalCount)

	j.MarkProcessed(NewTargetUser("https://f/u/a"))
	j.MarkSkipped(NewTargetUser("https://f/u/b"))
	j.MarkFailed(NewTargetUser("https://f/u/c"), "boom")

	assert.Equal(t, []string{"a"}, j.ProcessedUsernames)
	assert.Equal(t, []string{"b"}, j.SkippedUsernames)
	assert.Equal(t, []string{"c"}, j.FailedUsernames)
	assert.Empty(t, j.PendingTargets)
	assert.Equal(t, 1, j.ErrorCount)
	assert.Equal(t, "boom", j.LastError)
	assert.False(t, j.HasWork())

	j.RecomputeTotal()
	assert.Equal(t, 3, j.TotalCount)
}

func TestConsistentAndStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	j := New("100", ModeMute, false, "")
	assert.False(t, j.Consistent())

	j.TotalCount = 5
	j.ProcessedUsernames = []string{"a", "b"}
	assert.True(t, j.Consistent())

	j.Timestamp = now.Add(-59 * time.Minute)
	assert.False(t, j.Stale(now, time.Hour))
	j.Timestamp = now.Add(-61 * time.Minute)
	assert.True(t, j.Stale(now, time.Hour))
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{name: "Valid: Idle to Preparing", from: StateIdle, to: StatePreparing, expected: true},
		{name: "Valid: Running to Cooldown", from: StateRunning, to: StateCooldown, expected: true},
		{name: "Valid: Cooldown to Running", from: StateCooldown, to: StateRunning, expected: true},
		{name: "Valid: Running to Aborted", from: StateRunning, to: StateAborted, expected: true},
		{name: "Valid: Completing to Idle", from: StateCompleting, to: StateIdle, expected: true},
		{name: "Invalid: Idle to Running", from: StateIdle, to: StateRunning, expected: false},
		{name: "Invalid: Aborted to Running", from: StateAborted, to: StateRunning, expected: false},
		{name: "Invalid: Completing to Cooldown", from: StateCompleting, to: StateCooldown, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", got, tt.expected)
			}
		})
	}
}
