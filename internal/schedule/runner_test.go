package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerRunsJobImmediately(t *testing.T) {
	r := New(zap.NewNop())

	var runs atomic.Int32
	r.Register("tick", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, time.Second, 10*time.Millisecond, "job should run once at startup")
}

func TestRunnerTrigger(t *testing.T) {
	r := New(zap.NewNop())

	var runs atomic.Int32
	r.Register("tick", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 10*time.Millisecond)

	r.Trigger("tick")
	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 10*time.Millisecond, "trigger should run the job again")
}

func TestRunnerTriggerTargetsNamedJob(t *testing.T) {
	r := New(zap.NewNop())

	var aRuns, bRuns atomic.Int32
	r.Register("a", time.Hour, func(context.Context) error {
		aRuns.Add(1)
		return nil
	})
	r.Register("b", time.Hour, func(context.Context) error {
		bRuns.Add(1)
		return nil
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return aRuns.Load() >= 1 && bRuns.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	// Only the named job reruns; the other loop must not consume the
	// trigger.
	r.Trigger("b")
	require.Eventually(t, func() bool {
		return bRuns.Load() >= 2
	}, time.Second, 10*time.Millisecond, "trigger must reach job b")
	assert.Equal(t, int32(1), aRuns.Load())
}

func TestRunnerSerializesJobRuns(t *testing.T) {
	r := New(zap.NewNop())

	var active, overlaps, runs atomic.Int32
	job := func(context.Context) error {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		runs.Add(1)
		return nil
	}
	r.Register("a", 10*time.Millisecond, job)
	r.Register("b", 10*time.Millisecond, job)

	r.Start()
	require.Eventually(t, func() bool {
		return runs.Load() >= 10
	}, 2*time.Second, 10*time.Millisecond)
	r.Stop()

	assert.Zero(t, overlaps.Load(), "job runs must never overlap")
}

func TestRunnerStopWaitsForInflight(t *testing.T) {
	r := New(zap.NewNop())

	var finished atomic.Bool
	r.Register("slow", time.Hour, func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	assert.True(t, finished.Load(), "Stop must wait for the in-flight run")
}

func TestRunnerRecordsErrors(t *testing.T) {
	r := New(zap.NewNop())

	r.Register("bad", time.Hour, func(context.Context) error {
		return errors.New("boom")
	})

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		for _, s := range r.Statuses() {
			if s.Name == "bad" && s.State == JobError {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
