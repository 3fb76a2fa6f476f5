package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/errcode"
	"sentinelqa/runner"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/verify"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateSession(ctx, "run_0123456789ab", runner.SessionKindReplay, "https://shop.test/", "Sign up"))
	require.NoError(t, s.AppendAction(ctx, "run_0123456789ab", trajectory.NewTypeAction(&target.Descriptor{ID: "email"}, "Email", "a@b.test")))
	require.NoError(t, s.AppendAction(ctx, "run_0123456789ab", trajectory.NewClickAction(&target.Descriptor{TestID: "signup"}, "Sign up")))

	state := runner.NewSessionState("run_0123456789ab", "https://shop.test/", "Sign up")
	require.NoError(t, state.Transition(runner.StatusRunning))
	require.NoError(t, state.AppendStep(trajectory.NewClickAction(&target.Descriptor{TestID: "signup"}, "Sign up")))
	require.NoError(t, state.AppendResults(verify.Result{Assertion: verify.Assertion{Kind: verify.KindURLContains, Expected: "/welcome"}, Passed: true, Confidence: target.ConfidenceHigh}))
	require.NoError(t, s.SaveState(ctx, state))
	require.NoError(t, state.Finish(runner.StatusPassed, "confirmation shown", ""))
	require.NoError(t, s.SaveState(ctx, state))

	read, err := s.ReadSession(ctx, "run_0123456789ab")
	require.NoError(t, err)
	assert.Equal(t, runner.StatusPassed, read.Status)
	require.Len(t, read.Steps, 1)
	assert.Equal(t, trajectory.ActionKindClick, read.Steps[0].Kind())
	require.Len(t, read.Results, 1)
	assert.True(t, read.Results[0].Passed)

	actions, err := s.Actions(ctx, "run_0123456789ab")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, trajectory.ActionKindType, actions[0].Kind())
	assert.Equal(t, trajectory.ActionKindClick, actions[1].Kind())

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, runner.SessionKindReplay, run.Kind)
	assert.Equal(t, runner.StatusPassed, run.Status)
	assert.Equal(t, 1, run.VerificationsPassed)
	assert.Equal(t, 1, run.VerificationsTotal)
	assert.Contains(t, run.Summary, "Successfully completed test on https://shop.test/.")
	assert.Empty(t, run.BugSummary)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestSaveStateWithoutCreate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state := runner.NewSessionState("run_aaaaaaaaaaaa", "https://shop.test/", "")
	require.NoError(t, state.FailStep(2, "https://shop.test/cart", string(errcode.TargetNotFound)))
	require.NoError(t, state.Finish(runner.StatusFailed, "no checkout button", ""))
	require.NoError(t, s.SaveState(ctx, state))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runner.StatusFailed, runs[0].Status)
	assert.Equal(t, "Step 2 failed at https://shop.test/cart: TARGET_NOT_FOUND: no checkout button", runs[0].BugSummary)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, id := range []string{"run_1", "run_2", "run_3"} {
		require.NoError(t, s.CreateSession(ctx, id, runner.SessionKindRun, "https://shop.test/", ""))
	}
	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_3", runs[0].ID)
	assert.Equal(t, runner.StatusInitializing, runs[0].Status)
}

func TestReadErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.ReadSession(ctx, "run_missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.Equal(t, errcode.StorageRead, errcode.CodeOf(err))

	require.NoError(t, s.CreateSession(ctx, "run_new", runner.SessionKindRun, "https://shop.test/", ""))
	_, err = s.ReadSession(ctx, "run_new")
	assert.Equal(t, errcode.StorageRead, errcode.CodeOf(err))

	err = s.CreateSession(ctx, "run_new", runner.SessionKindRun, "https://shop.test/", "")
	assert.Equal(t, errcode.StorageWrite, errcode.CodeOf(err))

	err = s.AppendAction(ctx, "run_unknown", trajectory.NewPressAction("Enter"))
	assert.Equal(t, errcode.StorageWrite, errcode.CodeOf(err))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Equal(t, errcode.ConfigInvalid, errcode.CodeOf(err))
}
