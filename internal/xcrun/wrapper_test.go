package xcrun

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExecer struct {
	calls   int
	results []struct {
		stdout, stderr string
		err            error
	}
}

func (s *scriptedExecer) run(ctx context.Context, name string, args []string) (string, string, error) {
	r := s.results[s.calls]
	s.calls++
	return r.stdout, r.stderr, r.err
}

func newWrapperWithExecer(e execer) *Wrapper {
	return &Wrapper{exec: e, log: logrus.NewEntry(logrus.New())}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	fake := &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{
		{stdout: "ok", stderr: "", err: nil},
	}}
	w := newWrapperWithExecer(fake)

	out, err := w.Run(context.Background(), "xcrun", "simctl", "list")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Combined)
	assert.Equal(t, 1, fake.calls)
}

func TestRunRetriesOnceOnCoreSimulatorInterruption(t *testing.T) {
	fake := &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{
		{stdout: "", stderr: "CoreSimulatorService connection interrupted", err: errors.New("exit 1")},
		{stdout: "booted", stderr: "", err: nil},
	}}
	w := newWrapperWithExecer(fake)

	out, err := w.Run(context.Background(), "xcrun", "simctl", "boot", "ABCD")
	require.NoError(t, err)
	assert.Equal(t, "booted", out.Combined)
	assert.Equal(t, 2, fake.calls, "must retry exactly once")
}

func TestRunNeverExceedsMaxAttempts(t *testing.T) {
	fake := &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{
		{stdout: "", stderr: "CoreSimulatorService connection interrupted", err: errors.New("exit 1")},
		{stdout: "", stderr: "CoreSimulatorService connection interrupted", err: errors.New("exit 1")},
	}}
	w := newWrapperWithExecer(fake)

	_, err := w.Run(context.Background(), "xcrun", "simctl", "boot", "ABCD")
	require.Error(t, err)
	assert.Equal(t, MaxAttempts, fake.calls)
}

func TestRunSurfacesUnrecognizedFailureAsSimulatorError(t *testing.T) {
	fake := &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{
		{stdout: "", stderr: "some other failure", err: errors.New("exit 1")},
	}}
	w := newWrapperWithExecer(fake)

	_, err := w.Run(context.Background(), "xcrun", "simctl", "create", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIMULATOR_ERROR")
	assert.Equal(t, 1, fake.calls, "non-transient failure must not be retried")
}

func TestRunTrustsOnlyStdoutAfterRelocationSignature(t *testing.T) {
	fake := &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{
		{
			stdout: "actual output",
			stderr: "CoreSimulator detected Xcode.app relocation or CoreSimulatorService version change",
			err:    nil,
		},
	}}
	w := newWrapperWithExecer(fake)

	out, err := w.Run(context.Background(), "xcrun", "simctl", "list")
	require.NoError(t, err)
	assert.Equal(t, "actual output", out.Combined)
}
