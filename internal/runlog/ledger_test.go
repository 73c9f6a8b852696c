package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/colmap-zup/internal/command"
	"github.com/banshee-data/colmap-zup/internal/recon"
	"github.com/banshee-data/colmap-zup/internal/timeutil"
)

var epoch = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	l.SetClock(timeutil.NewMockClock(epoch))
	return l
}

func TestOpen_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// Second open finds the schema current.
	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	var version int
	require.NoError(t, l.db.QueryRow(`SELECT version FROM schema_migrations`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestRun_RecordsSuccessfulStages(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, "/data/scene", map[string]bool{"auto_z_up": true})
	require.NoError(t, err)

	var obs recon.Observer = run
	obs.StageStarted(ctx, recon.StageLayout, epoch)
	obs.StageFinished(ctx, recon.StageResult{Stage: recon.StageLayout, Started: epoch, Duration: 1500 * time.Millisecond})
	obs.StageStarted(ctx, recon.StageExport, epoch.Add(2*time.Second))
	obs.StageFinished(ctx, recon.StageResult{Stage: recon.StageExport, Duration: time.Second})
	require.NoError(t, run.Finish(ctx, nil))

	runs, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, StatusSucceeded, runs[0].Status)
	assert.Equal(t, 0, runs[0].ExitCode)
	assert.Equal(t, `{"auto_z_up":true}`, runs[0].OptionsJSON)
	assert.True(t, runs[0].StartedAt.Equal(epoch))
	assert.False(t, runs[0].FinishedAt.IsZero())

	stages, err := l.Stages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, recon.StageLayout, stages[0].Stage)
	assert.Equal(t, 1500*time.Millisecond, stages[0].Duration)
	assert.Equal(t, StatusSucceeded, stages[0].Status)
	assert.Equal(t, recon.StageExport, stages[1].Stage)
	assert.Equal(t, 2, stages[1].Seq)
}

func TestRun_RecordsFailedStageWithCode(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	run, err := l.StartRun(ctx, "/data/scene", nil)
	require.NoError(t, err)

	cause := &command.ExitError{Op: "exhaustive_matcher", Code: 3, Err: command.StatusError(3)}
	run.StageStarted(ctx, recon.StageFeatureMatching, epoch)
	run.StageFinished(ctx, recon.StageResult{Stage: recon.StageFeatureMatching, Err: cause})
	require.NoError(t, run.Finish(ctx, &recon.StageError{Stage: recon.StageFeatureMatching, Err: cause}))

	runs, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, 3, runs[0].ExitCode)
	assert.Equal(t, recon.StageFeatureMatching, runs[0].FailedStage)
	assert.Contains(t, runs[0].Error, "exhaustive_matcher failed with code 3")

	stages, err := l.Stages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, StatusFailed, stages[0].Status)
	assert.Equal(t, 3, stages[0].ExitCode)
}

func TestRecent_NewestFirstAndLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	clock := timeutil.NewMockClock(epoch)
	l.SetClock(clock)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := l.StartRun(ctx, "/data/scene", nil)
		require.NoError(t, err)
		require.NoError(t, run.Finish(ctx, errors.New("boom")))
		ids = append(ids, run.ID)
		clock.Advance(time.Minute)
	}

	runs, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, 1, runs[0].ExitCode)
	assert.Empty(t, runs[0].FailedStage)
}

func TestStartRun_BadOptions(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.StartRun(context.Background(), "/x", make(chan int))
	assert.Error(t, err)
}
