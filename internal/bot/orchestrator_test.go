package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestOrchestratorRunsTasks(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())

	var runs atomic.Int64
	o.Register("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitFor(t, func() bool { return runs.Load() >= 3 })

	st := o.Status()
	assert.Equal(t, "running", st.Status)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, "tick", st.Tasks[0].Name)
	assert.GreaterOrEqual(t, st.Tasks[0].RunCount, int64(3))
	assert.Zero(t, st.Tasks[0].ErrorCount)
}

func TestOrchestratorCountsErrors(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())

	var runs atomic.Int64
	o.Register("flaky", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitFor(t, func() bool { return runs.Load() >= 2 })

	st := o.Status()
	require.Len(t, st.Tasks, 1)
	assert.GreaterOrEqual(t, st.Tasks[0].ErrorCount, int64(2))
	assert.Equal(t, "boom", st.Tasks[0].LastError)
	assert.Contains(t, st.ErrorMessage, "flaky")
}

func TestOrchestratorManualTrigger(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())

	var runs atomic.Int64
	// An hour-long interval: only the initial run and the trigger fire.
	o.Register("slow", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitFor(t, func() bool { return runs.Load() == 1 })
	require.NoError(t, o.Trigger("slow"))
	waitFor(t, func() bool { return runs.Load() == 2 })

	assert.ErrorContains(t, o.Trigger("nope"), "unknown task")
}

func TestOrchestratorDisableTask(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())

	var runs atomic.Int64
	o.Register("paused", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, o.SetEnabled("paused", false))

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load(), "disabled tasks never run")

	require.NoError(t, o.SetEnabled("paused", true))
	waitFor(t, func() bool { return runs.Load() >= 1 })
}

func TestOrchestratorStopAndRestart(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())

	var runs atomic.Int64
	o.Register("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, o.Start(context.Background()))
	waitFor(t, func() bool { return runs.Load() >= 1 })
	o.Stop()

	assert.False(t, o.Running())
	st := o.Status()
	assert.Equal(t, "stopped", st.Status)
	assert.NotNil(t, st.StoppedAt)

	before := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, runs.Load(), "no runs after stop")

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()
	waitFor(t, func() bool { return runs.Load() > before })
}

func TestOrchestratorStartTwice(t *testing.T) {
	o := NewOrchestrator(nil, testLogger())
	o.Register("tick", time.Hour, func(context.Context) error { return nil })

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.ErrorContains(t, o.Start(context.Background()), "already running")
}
