// Package xcrun implements the vendor-tool invocation wrapper of
// §4.3: a shared helper that shells out to the simulator control tool
// (xcrun simctl) and classifies its transient-failure signatures.
package xcrun

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
)

const (
	connectionInterruptedSignature = "CoreSimulatorService connection interrupted"
	relocationSignature            = "CoreSimulator detected Xcode.app relocation or CoreSimulatorService version change"

	// MaxAttempts bounds the wrapper's own retry loop; it must never
	// run the underlying tool more than twice for one logical call.
	MaxAttempts = 2
)

// Output is the captured result of one vendor-tool invocation.
type Output struct {
	Stdout   string
	Stderr   string
	Combined string
}

// execer abstracts process launch+wait so tests can substitute a fake
// without shelling out to a real xcrun binary.
type execer interface {
	run(ctx context.Context, name string, args []string) (stdout, stderr string, err error)
}

type realExecer struct{}

func (realExecer) run(ctx context.Context, name string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Wrapper executes vendor command-line tools with the §4.3 retry
// policy applied uniformly to every caller (Simulator Controller
// transitions, Device Resolver listings).
type Wrapper struct {
	exec execer
	log  *logrus.Entry
}

// NewWrapper builds a production Wrapper that shells out for real.
func NewWrapper(log *logrus.Entry) *Wrapper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Wrapper{exec: realExecer{}, log: log.WithField("component", "xcrun")}
}

// FuncExecer adapts a plain function to the wrapper's process-launch
// contract, letting other packages' tests script vendor-tool responses
// without shelling out to a real toolchain.
type FuncExecer func(ctx context.Context, name string, args []string) (stdout, stderr string, err error)

func (f FuncExecer) run(ctx context.Context, name string, args []string) (string, string, error) {
	return f(ctx, name, args)
}

// NewWrapperWithExecerForTest builds a Wrapper backed by a scripted
// FuncExecer, exported solely so other packages' tests can drive a
// Wrapper-dependent component deterministically.
func NewWrapperWithExecerForTest(exec FuncExecer) *Wrapper {
	return &Wrapper{exec: exec, log: logrus.NewEntry(logrus.New())}
}

// Run executes name with args, applying the transient-failure retry
// policy. It retries at most once, pausing briefly via an exponential
// backoff step capped well under a second, matching "retry once after
// a short pause" in §4.3.
func (w *Wrapper) Run(ctx context.Context, name string, args ...string) (Output, error) {
	var lastOut Output
	var lastErr error

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 150 * time.Millisecond
	bo.MaxInterval = 400 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		stdout, stderr, runErr := w.exec.run(ctx, name, args)
		combined := stdout + stderr
		out := Output{Stdout: stdout, Stderr: stderr, Combined: combined}

		if strings.Contains(combined, relocationSignature) {
			// Only stdout is authoritative once the relocation
			// signature has appeared; stderr carries just the
			// CoreSimulator relocation chatter.
			out.Combined = stdout
		}

		if runErr == nil {
			return out, nil
		}

		if strings.Contains(combined, connectionInterruptedSignature) && attempt < MaxAttempts {
			w.log.WithFields(logrus.Fields{"name": name, "attempt": attempt}).
				Debug("CoreSimulatorService connection interrupted, retrying")
			lastOut, lastErr = out, runErr
			time.Sleep(bo.NextBackOff())
			continue
		}

		return out, agenterr.SimulatorErrorFromOutput(out.Combined)
	}

	return lastOut, agenterr.SimulatorErrorFromOutput(lastOut.Combined).WithDetails(map[string]interface{}{
		"underlying": lastErr,
	})
}
