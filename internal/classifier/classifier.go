// Package classifier implements the Failure Classifier of §4.5: given
// the combined output of a run that did not cleanly succeed or fail,
// decide whether it is recoverable and how.
package classifier

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
)

// Classification is the closed taxonomy of recoverable (and terminal)
// failure dispositions of §4.5.
type Classification string

const (
	NeedRebootDevice      Classification = "need_reboot_device"
	NeedRecreateSimulator Classification = "need_recreate_simulator"
	Relaunchable          Classification = "relaunchable"
	TestNotStart          Classification = "test_not_start"
)

const (
	deviceTypeWasNullFragment   = "DTDeviceKit: deviceType from "
	lostConnectionTestmanagerd  = "Lost connection to testmanagerd"
	lostConnectionDTServiceHub  = "Lost connection to DTServiceHub"
	tooManyInstancesRunning     = "Too many instances of this service are already running."
	backgroundTestRunnerFailed  = "Failed to background test runner"
	requestDeniedBySBMainWspace = "The request was denied by service delegate (SBMainWorkspace) for reason"
	initServiceConnFailed       = "Failed to initiate service connection to simulator"
	processExitedOrCrashed      = "The process did launch, but has since exited or crashed."
	coreSimulatorInterrupted    = "CoreSimulatorService connection interrupted"

	realDeviceRelaunchDelay = 5 * time.Second
)

var deviceTypeWasNullPattern = regexp.MustCompile(`DTDeviceKit: deviceType from .* was NULL`)
var appUnknownToFrontBoardPattern = regexp.MustCompile(`Application ".*" is unknown to FrontBoard\.`)

// AppInstalledProbe reports whether the app under test is still
// installed on the simulator; the post-run probe of §4.5 delegates to
// it so the classifier itself never shells out.
type AppInstalledProbe func() (bool, error)

// Config carries the context the classifier needs beyond the raw
// output: which path to evaluate (device kind), the test type (for the
// UI-test-only background-runner rule), the bundle id (for the
// app-crash pattern), the tail of the simulator system log (crash
// patterns are read from there, not the xcodebuild output), and the
// optional post-run installed-app probe.
type Config struct {
	Platform     iosenum.Platform
	TestType     iosenum.TestType
	AppBundleID  string
	SimLogTail   string
	AppInstalled AppInstalledProbe
}

func crashPatterns(testType iosenum.TestType, appBundleID string) []*regexp.Regexp {
	const exitReason = `(due to (signal|Terminated|Killed|Abort trap)|with abnormal code)`
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) \(com\.apple\.CoreSimulator(.+)\): Service exited due to `),
	}
	if testType == iosenum.HostlessUnitTest {
		patterns = append(patterns, regexp.MustCompile(
			`com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) \((.+)xctest\[[0-9]+\]\): Service exited `+exitReason))
	} else if appBundleID != "" {
		patterns = append(patterns, regexp.MustCompile(
			fmt.Sprintf(`com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) \(UIKitApplication:%s(.+)\): Service exited `+exitReason,
				regexp.QuoteMeta(appBundleID))))
	}
	return patterns
}

// Classify evaluates §4.5's ordered rules against a Supervisor Outcome
// that did not resolve to Succeeded/Failed/Unclassified, returning the
// recovery classification and a suggested backoff before the next
// attempt (zero unless the rule specifies one).
func Classify(out supervisor.Outcome, cfg Config) (Classification, time.Duration) {
	output := out.Output

	if cfg.Platform == iosenum.RealDevice {
		if deviceTypeWasNullPattern.MatchString(output) ||
			strings.Contains(output, lostConnectionTestmanagerd) ||
			strings.Contains(output, lostConnectionDTServiceHub) {
			return Relaunchable, realDeviceRelaunchDelay
		}
		if strings.Contains(output, tooManyInstancesRunning) {
			return NeedRebootDevice, 0
		}
		if out.WatchdogFired {
			return NeedRebootDevice, 0
		}
		return TestNotStart, 0
	}

	if cfg.TestType == iosenum.UITest && strings.Contains(output, backgroundTestRunnerFailed) {
		return NeedRebootDevice, 0
	}
	if appUnknownToFrontBoardPattern.MatchString(output) {
		return NeedRecreateSimulator, 0
	}
	if strings.Contains(output, requestDeniedBySBMainWspace) {
		return NeedRecreateSimulator, 0
	}
	if strings.Contains(output, initServiceConnFailed) {
		return NeedRecreateSimulator, 0
	}

	for _, pattern := range crashPatterns(cfg.TestType, cfg.AppBundleID) {
		if pattern.MatchString(cfg.SimLogTail) {
			return Relaunchable, 0
		}
	}
	if strings.Contains(output, processExitedOrCrashed) {
		return Relaunchable, 0
	}
	if strings.Contains(output, coreSimulatorInterrupted) {
		return Relaunchable, time.Duration(rand.Int63n(int64(2 * time.Second)))
	}
	if cfg.AppInstalled != nil {
		if installed, err := cfg.AppInstalled(); err == nil && !installed {
			return Relaunchable, 0
		}
	}

	return TestNotStart, 0
}

// ExitCode maps a terminal Classification onto the §3 exit-code
// taxonomy; callers only consult this once the Retry Planner has
// decided no further attempt will be made.
func (c Classification) ExitCode() iosenum.ExitCode {
	switch c {
	case NeedRebootDevice:
		return iosenum.ExitNeedRebootDevice
	case NeedRecreateSimulator:
		return iosenum.ExitNeedRecreateSimulator
	case TestNotStart:
		return iosenum.ExitTestNotStart
	default:
		return iosenum.ExitSimulatorError
	}
}
