// Package retry implements the Retry Planner of §4.6: a bounded
// attempt loop that honors the Failure Classifier's recovery
// instructions between attempts and guarantees cleanup on every exit
// path.
package retry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/classifier"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

func maxAttempts(platform iosenum.Platform) int {
	if platform == iosenum.RealDevice {
		return 2
	}
	return 3
}

// AttemptResult is what one supervised test attempt resolves to: a
// terminal exit code when the attempt already concluded the run
// (Succeeded/Failed/Unclassified), or a Classification plus suggested
// backoff for the Planner to act on before the next iteration.
type AttemptResult struct {
	Terminal       bool
	ExitCode       iosenum.ExitCode
	Classification classifier.Classification
	Backoff        time.Duration
}

// Attempt runs one supervised test invocation, numbered from 1.
type Attempt func(ctx context.Context, iteration int) (AttemptResult, error)

// Hooks are the Simulator Controller actions the Planner drives
// between attempts; RebootSimulator and RecreateSimulator are nil for
// a real-device session, where neither recovery path is available.
type Hooks struct {
	RecreateSimulator func(ctx context.Context) error
	RebootSimulator   func(ctx context.Context) error
	Cleanup           func(ctx context.Context) error
}

// Planner bounds attempts per §4.6's per-device-kind maxima.
type Planner struct {
	Platform iosenum.Platform
	Hooks    Hooks
	log      *logrus.Entry
}

// NewPlanner builds a Planner for one session.
func NewPlanner(platform iosenum.Platform, hooks Hooks, log *logrus.Entry) *Planner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Planner{Platform: platform, Hooks: hooks, log: log.WithField("component", "retry")}
}

// Execute runs attempt up to the platform's attempt cap, applying the
// recreate/reboot/relaunch transition table between non-terminal
// iterations, and always invokes Hooks.Cleanup exactly once before
// returning.
func (p *Planner) Execute(ctx context.Context, attempt Attempt) (iosenum.ExitCode, error) {
	max := maxAttempts(p.Platform)
	var lastCode iosenum.ExitCode
	var lastErr error

	defer func() {
		if p.Hooks.Cleanup == nil {
			return
		}
		if err := p.Hooks.Cleanup(ctx); err != nil {
			p.log.WithError(err).Warn("session cleanup failed")
		}
	}()

	for iteration := 1; iteration <= max; iteration++ {
		result, err := attempt(ctx, iteration)
		if err != nil {
			return iosenum.ExitGeneralError, err
		}
		if result.Terminal {
			return result.ExitCode, nil
		}

		lastCode = result.Classification.ExitCode()
		lastErr = nil

		// A real-device NeedRebootDevice has no recovery path; it is
		// terminal even mid-loop, matching §8 scenario E (exit=13, no
		// retry).
		if p.Platform == iosenum.RealDevice && result.Classification == classifier.NeedRebootDevice {
			return lastCode, nil
		}

		if iteration == max {
			return lastCode, nil
		}

		switch result.Classification {
		case classifier.NeedRecreateSimulator:
			if p.Hooks.RecreateSimulator != nil {
				if err := p.Hooks.RecreateSimulator(ctx); err != nil {
					return iosenum.ExitSimulatorError, err
				}
			}
		case classifier.NeedRebootDevice:
			if p.Hooks.RebootSimulator != nil {
				if err := p.Hooks.RebootSimulator(ctx); err != nil {
					return iosenum.ExitSimulatorError, err
				}
			}
		case classifier.Relaunchable:
			if result.Backoff > 0 {
				select {
				case <-time.After(result.Backoff):
				case <-ctx.Done():
					return iosenum.ExitGeneralError, ctx.Err()
				}
			}
		}
	}

	return lastCode, lastErr
}
