// Package supervisor implements the Process Supervisor of §4.4: spawn
// one test-execution child, stream its combined stdout/stderr
// line-by-line to the caller, detect the startup and result
// signatures, and enforce a startup watchdog.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

const (
	defaultStartupTimeout = 150 * time.Second

	testStartedSignal    = "Test Suite"
	xctrunnerStartedLine = "Running tests..."
)

// RunSpec describes one test-execution child process.
type RunSpec struct {
	Command         []string
	Env             map[string]string
	Platform        iosenum.Platform
	TestType        iosenum.TestType
	SucceededSignal string
	FailedSignal    string
	AppBundleID     string
	StartupTimeout  time.Duration
	Stdout          io.Writer
}

// Verdict is the Supervisor's own classification of an Outcome; the
// needs-classification case is handed to the Failure Classifier.
type Verdict string

const (
	VerdictSucceeded           Verdict = "succeeded"
	VerdictFailed              Verdict = "failed"
	VerdictUnclassified        Verdict = "unclassified"
	VerdictNeedsClassification Verdict = "needs_classification"
)

// Outcome is the result of one supervised run.
type Outcome struct {
	Started       bool
	WatchdogFired bool
	Succeeded     bool
	Failed        bool
	Output        string
	ExitErr       error
	PurgedCaches  []string
}

// Verdict maps the outcome's flags onto §4.4 step 5's decision tree.
// The not-started, watchdog-not-fired case (and the watchdog-fired
// case, which the Failure Classifier maps per device kind) both
// resolve to VerdictNeedsClassification.
func (o Outcome) Verdict() Verdict {
	if o.Started {
		switch {
		case o.Succeeded:
			return VerdictSucceeded
		case o.Failed:
			return VerdictFailed
		default:
			return VerdictUnclassified
		}
	}
	return VerdictNeedsClassification
}

// Supervisor runs one command at a time; it carries no state between
// calls to Run.
type Supervisor struct {
	log *logrus.Entry
}

// NewSupervisor builds a Supervisor logging through log.
func NewSupervisor(log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{log: log.WithField("component", "supervisor")}
}

// Run spawns spec.Command, always injecting NSUnbufferedIO=YES, and
// blocks until the child exits or the startup watchdog kills it.
func (s *Supervisor) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
	if len(spec.Command) == 0 {
		return Outcome{}, fmt.Errorf("supervisor: empty command")
	}
	timeout := spec.StartupTimeout
	if timeout <= 0 {
		timeout = defaultStartupTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Env = buildEnv(spec.Env)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("supervisor: start: %w", err)
	}

	var started, watchdogFired, succeeded, failed atomic.Bool
	var outputBuf strings.Builder
	var mu sync.Mutex
	startedCh := make(chan struct{})

	g, _ := errgroup.WithContext(runCtx)

	g.Go(func() error {
		select {
		case <-startedCh:
			return nil
		case <-time.After(timeout):
			watchdogFired.Store(true)
			s.log.WithField("timeout", timeout).Warn("startup watchdog fired, killing child")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			return nil
		case <-runCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if spec.Stdout != nil {
				fmt.Fprintln(spec.Stdout, line)
			}
			mu.Lock()
			outputBuf.WriteString(line)
			outputBuf.WriteByte('\n')
			mu.Unlock()

			if !started.Load() {
				if strings.Contains(line, testStartedSignal) {
					started.Store(true)
					close(startedCh)
				} else if spec.TestType == iosenum.UITest && spec.Platform == iosenum.Simulator &&
					strings.Contains(line, xctrunnerStartedLine) {
					started.Store(true)
					close(startedCh)
				}
			} else {
				if spec.SucceededSignal != "" && strings.Contains(line, spec.SucceededSignal) {
					succeeded.Store(true)
				}
				if spec.FailedSignal != "" && strings.Contains(line, spec.FailedSignal) {
					failed.Store(true)
				}
			}
		}
		return scanner.Err()
	})

	waitErr := cmd.Wait()
	_ = pw.Close()
	cancel()
	_ = g.Wait()

	mu.Lock()
	output := outputBuf.String()
	mu.Unlock()

	outcome := Outcome{
		Started:       started.Load(),
		WatchdogFired: watchdogFired.Load(),
		Succeeded:     succeeded.Load(),
		Failed:        failed.Load(),
		Output:        output,
		ExitErr:       waitErr,
	}

	if spec.Platform == iosenum.RealDevice {
		outcome.PurgedCaches = purgeEmbeddedAppDeltas(output, embeddedAppDeltasMaxDirs(spec.TestType))
	}

	return outcome, nil
}

func buildEnv(overlay map[string]string) []string {
	env := []string{}
	seen := map[string]bool{"NSUnbufferedIO": true}
	for k, v := range overlay {
		if k == "NSUnbufferedIO" {
			continue
		}
		env = append(env, k+"="+v)
		seen[k] = true
	}
	env = append(env, "NSUnbufferedIO=YES")
	return mergeWithProcessEnv(env, seen)
}

// embeddedAppDeltasMaxDirs implements §4.4 point 6: one cache directory
// for unit tests, two for UI tests (app under test plus XCTRunner.app).
func embeddedAppDeltasMaxDirs(testType iosenum.TestType) int {
	if testType == iosenum.UITest {
		return 2
	}
	return 1
}

var embeddedAppDeltasPattern = regexp.MustCompile(`(\S+/EmbeddedAppDeltas/[a-z0-9]+)/`)

// purgeEmbeddedAppDeltas scans output for the host's EmbeddedAppDeltas
// cache directories created by this run and removes up to maxDirs of
// them, returning the paths it removed.
func purgeEmbeddedAppDeltas(output string, maxDirs int) []string {
	matches := embeddedAppDeltasPattern.FindAllStringSubmatch(output, -1)
	seen := map[string]bool{}
	var dirs []string
	for _, m := range matches {
		dir := m[1]
		if seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
		if len(dirs) >= maxDirs {
			break
		}
	}
	for _, dir := range dirs {
		removeDirBestEffort(dir)
	}
	return dirs
}
