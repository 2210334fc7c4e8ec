package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/classifier"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

func TestExecuteReturnsImmediatelyOnSuccess(t *testing.T) {
	p := NewPlanner(iosenum.Simulator, Hooks{}, nil)
	calls := 0
	code, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		return AttemptResult{Terminal: true, ExitCode: iosenum.ExitSucceeded}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, iosenum.ExitSucceeded, code)
	assert.Equal(t, 1, calls)
}

// Scenario B: simulator startup watchdog fires every attempt; expect
// 3 attempts and a final TestNotStart exit code.
func TestExecuteExhaustsSimulatorAttemptsOnRepeatedTestNotStart(t *testing.T) {
	p := NewPlanner(iosenum.Simulator, Hooks{}, nil)
	calls := 0
	code, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		return AttemptResult{Classification: classifier.TestNotStart}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, iosenum.ExitTestNotStart, code)
	assert.Equal(t, 3, calls)
}

// Scenario C: FrontBoard "unknown application" recreates the simulator
// between attempts and exhausts after 3 failures.
func TestExecuteRecreatesSimulatorOnNeedRecreateClassification(t *testing.T) {
	recreateCalls := 0
	p := NewPlanner(iosenum.Simulator, Hooks{
		RecreateSimulator: func(ctx context.Context) error {
			recreateCalls++
			return nil
		},
	}, nil)

	calls := 0
	code, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		return AttemptResult{Classification: classifier.NeedRecreateSimulator}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, iosenum.ExitNeedRecreateSimulator, code)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, recreateCalls, "recreate fires between attempts, not after the last one")
}

// Scenario D: CoreSimulator interruption backs off once, then the
// second attempt succeeds.
func TestExecuteBacksOffThenSucceedsOnRelaunchable(t *testing.T) {
	p := NewPlanner(iosenum.Simulator, Hooks{}, nil)
	start := time.Now()
	calls := 0
	code, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		if iteration == 1 {
			return AttemptResult{Classification: classifier.Relaunchable, Backoff: 10 * time.Millisecond}, nil
		}
		return AttemptResult{Terminal: true, ExitCode: iosenum.ExitSucceeded}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, iosenum.ExitSucceeded, code)
	assert.Equal(t, 2, calls)
	assert.True(t, time.Since(start) >= 10*time.Millisecond)
}

// Scenario E: real-device "too many instances" is terminal with no
// retry, even on the first attempt.
func TestExecuteRealDeviceNeedRebootIsTerminalWithoutRetry(t *testing.T) {
	p := NewPlanner(iosenum.RealDevice, Hooks{}, nil)
	calls := 0
	code, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		return AttemptResult{Classification: classifier.NeedRebootDevice}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, iosenum.ExitNeedRebootDevice, code)
	assert.Equal(t, 1, calls)
}

func TestExecuteRebootsSimulatorOnNeedRebootClassification(t *testing.T) {
	rebootCalls := 0
	p := NewPlanner(iosenum.Simulator, Hooks{
		RebootSimulator: func(ctx context.Context) error {
			rebootCalls++
			return nil
		},
	}, nil)
	calls := 0
	_, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		calls++
		if iteration < 2 {
			return AttemptResult{Classification: classifier.NeedRebootDevice}, nil
		}
		return AttemptResult{Terminal: true, ExitCode: iosenum.ExitSucceeded}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rebootCalls)
	assert.Equal(t, 2, calls)
}

func TestExecuteInvokesCleanupExactlyOnceRegardlessOfOutcome(t *testing.T) {
	cleanupCalls := 0
	p := NewPlanner(iosenum.Simulator, Hooks{
		Cleanup: func(ctx context.Context) error {
			cleanupCalls++
			return nil
		},
	}, nil)
	_, _ = p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		return AttemptResult{Terminal: true, ExitCode: iosenum.ExitSucceeded}, nil
	})
	assert.Equal(t, 1, cleanupCalls)
}

func TestExecutePropagatesAttemptError(t *testing.T) {
	p := NewPlanner(iosenum.Simulator, Hooks{}, nil)
	sentinel := assert.AnError
	_, err := p.Execute(context.Background(), func(ctx context.Context, iteration int) (AttemptResult, error) {
		return AttemptResult{}, sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}
