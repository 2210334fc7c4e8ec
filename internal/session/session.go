// Package session implements the Session Coordinator of §4.1: binds
// caller inputs, drives Prepare→Run→Close, and owns the per-run
// workspace. It wires together every other component — device
// resolution, the simulator lifecycle, the process supervisor, the
// failure classifier, and the retry planner — into the single
// `Run(device_id) -> exit_code` control flow described in §3.
package session

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/classifier"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/config"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/device"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/retry"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/session/strategy"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/simulator"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/toolchain"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

var recognizedBundleExtensions = map[string]bool{
	".xctest": true,
	".zip":    true,
}

// BinarySymbolProber is the out-of-scope collaborator (§1) that
// inspects a compiled test binary's symbol table for the UI-application
// marker distinguishing UI tests from unit tests, used by Prepare when
// the caller does not specify a test type.
type BinarySymbolProber interface {
	HasUITestMarker(path string) (bool, error)
}

// Inputs is everything the CLI gathers before calling Prepare.
type Inputs struct {
	AppUnderTestPath   string
	AppBundleID        string
	TestBundlePath     string
	XCTestRunPath      string
	TestType           iosenum.TestType // empty: inferred by Prepare
	Platform           iosenum.Platform
	LaunchOptionsPath  string
	SigningOptionsPath string
	WorkDir            string
	OutputDir          string
	SucceededSignal    string
	FailedSignal       string

	// simulator_test-only fields.
	DeviceType      string
	OSVersion       string
	NamePrefix      string
	Language        []string
	KeepWorkspace   bool
	KeepSimulator   bool
	ToolchainPacked int
}

// Deps are the collaborators a Session wires together. Wrapper,
// Resolver, and Prober may be nil for direct-spawn-only sessions in
// tests; Session supplies production defaults where it can.
type Deps struct {
	Wrapper       *xcrun.Wrapper
	Resolver      *device.Resolver
	Prober        BinarySymbolProber
	DocWriter     strategy.ConfigDocumentWriter
	ScaffoldGen   strategy.ScaffoldProjectGenerator
	AppInstalled  classifier.AppInstalledProbe
	Log           *logrus.Entry
	WorkspaceRoot string // defaults to os.TempDir()
}

// Session drives one test invocation end to end.
type Session struct {
	deps Deps
	log  *logrus.Entry

	prepared bool
	closed   bool

	in           Inputs
	launch       config.LaunchOptions
	signing      config.SigningOptions
	workspaceDir string
	stagedBundle string
	kind         strategy.Kind
	simCtrl      *simulator.Controller
	deviceID     string
	targetOSVer  string
}

// New builds a Session. deps.Log defaults to the standard logger.
func New(deps Deps) *Session {
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.WorkspaceRoot == "" {
		deps.WorkspaceRoot = os.TempDir()
	}
	return &Session{deps: deps, log: deps.Log.WithField("component", "session")}
}

// Prepare validates inputs, stages the test bundle into a fresh
// workspace, infers the test type when necessary, and selects a
// preparation strategy. It is idempotent-per-session: a second call
// re-validates and re-stages rather than accumulating state.
func (s *Session) Prepare(ctx context.Context, in Inputs) error {
	if in.TestBundlePath == "" {
		return agenterr.IllegalArgumentError("test bundle path is required")
	}
	if _, err := os.Stat(in.TestBundlePath); err != nil {
		return agenterr.IllegalArgumentError(fmt.Sprintf("test bundle not found: %s", in.TestBundlePath))
	}
	ext := strings.ToLower(filepath.Ext(in.TestBundlePath))
	if !recognizedBundleExtensions[ext] {
		return agenterr.IllegalArgumentError(fmt.Sprintf("unrecognized test bundle extension: %s", ext))
	}

	testType := in.TestType
	if testType == "" {
		inferred, err := s.inferTestType(in.TestBundlePath)
		if err != nil {
			return err
		}
		testType = inferred
	}
	if testType == iosenum.HostlessUnitTest && in.Platform == iosenum.RealDevice {
		return agenterr.IllegalArgumentError("hostless logic tests are not supported on a real device")
	}

	kind, err := strategy.Select(testType, in.Platform, in.ToolchainPacked)
	if err != nil {
		return err
	}

	launch, err := config.LoadLaunchOptions(in.LaunchOptionsPath)
	if err != nil {
		return err
	}
	signing, err := config.LoadSigningOptions(in.SigningOptionsPath)
	if err != nil {
		return err
	}

	workspaceDir := in.WorkDir
	if workspaceDir == "" {
		workspaceDir = filepath.Join(s.deps.WorkspaceRoot, "ios-test-orchestrator-"+uuid.NewString())
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("session: creating workspace: %w", err)
	}

	staged, err := stageBundle(in.TestBundlePath, workspaceDir)
	if err != nil {
		return err
	}

	in.TestType = testType
	s.in = in
	s.launch = launch
	s.signing = signing
	s.workspaceDir = workspaceDir
	s.stagedBundle = staged
	s.kind = kind
	s.prepared = true
	return nil
}

// SetOptions overrides the launch/signing options decoded during
// Prepare, for callers that have already loaded them from elsewhere.
func (s *Session) SetOptions(launch config.LaunchOptions, signing config.SigningOptions) {
	s.launch = launch
	s.signing = signing
}

func (s *Session) inferTestType(bundlePath string) (iosenum.TestType, error) {
	if s.deps.Prober == nil {
		return iosenum.UnitTest, nil
	}
	isUI, err := s.deps.Prober.HasUITestMarker(bundlePath)
	if err != nil {
		return "", fmt.Errorf("session: inferring test type: %w", err)
	}
	if isUI {
		return iosenum.UITest, nil
	}
	return iosenum.UnitTest, nil
}

// stageBundle copies bundlePath into workspaceDir (extracting it
// first if it is a zip archive), returning the staged path Run will
// read from. A bundle already inside the workspace is used in place.
func stageBundle(bundlePath, workspaceDir string) (string, error) {
	abs, err := filepath.Abs(bundlePath)
	if err != nil {
		return "", fmt.Errorf("session: resolving bundle path: %w", err)
	}
	absWorkspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", fmt.Errorf("session: resolving workspace path: %w", err)
	}
	if strings.HasPrefix(abs, absWorkspace+string(filepath.Separator)) {
		return abs, nil
	}

	if strings.EqualFold(filepath.Ext(abs), ".zip") {
		return extractSingleBundle(abs, workspaceDir)
	}

	dest := filepath.Join(workspaceDir, filepath.Base(abs))
	if err := copyFile(abs, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("session: staging bundle: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("session: staging bundle: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("session: staging bundle: %w", err)
	}
	return nil
}

// extractSingleBundle unzips archivePath into workspaceDir and returns
// the path of its single top-level .xctest candidate. Zero or
// multiple candidates is a BundleError (§7).
func extractSingleBundle(archivePath, workspaceDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("session: opening bundle archive: %w", err)
	}
	defer r.Close()

	var candidates []string
	for _, f := range r.File {
		dest := filepath.Join(workspaceDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return "", fmt.Errorf("session: extracting bundle: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("session: extracting bundle: %w", err)
		}
		if err := extractOne(f, dest); err != nil {
			return "", fmt.Errorf("session: extracting bundle: %w", err)
		}
		if strings.HasSuffix(f.Name, ".xctest") || strings.Contains(f.Name, ".xctest/") {
			top := strings.SplitN(f.Name, "/", 2)[0]
			if top != "" && !strings.HasSuffix(top, ".xctest") {
				continue
			}
			candidate := filepath.Join(workspaceDir, top)
			if len(candidates) == 0 || candidates[len(candidates)-1] != candidate {
				candidates = append(candidates, candidate)
			}
		}
	}

	unique := uniqueStrings(candidates)
	if len(unique) == 0 {
		return "", agenterr.BundleErrorf("no .xctest bundle found in archive %s", archivePath)
	}
	if len(unique) > 1 {
		return "", agenterr.BundleErrorf("multiple candidate bundles found in archive %s", archivePath)
	}
	return unique[0], nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Close removes the workspace unless it was pinned by the caller. It
// is safe to call multiple times and never raises if the workspace is
// already absent (§4.1, §8 property 7).
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.in.KeepWorkspace || s.workspaceDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.workspaceDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: removing workspace: %w", err)
	}
	return nil
}

// Run executes the prepared session against deviceID, looping through
// the Retry Planner until a terminal outcome is reached. deviceID may
// be empty for the simulator_test path, in which case Run provisions a
// fresh simulator per Inputs.DeviceType/OSVersion/NamePrefix before the
// first attempt.
func (s *Session) Run(ctx context.Context, deviceID string) (iosenum.ExitCode, error) {
	if !s.prepared {
		return iosenum.ExitGeneralError, agenterr.XcodebuildTestErrorf("Run called before Prepare")
	}

	if deviceID != "" && s.deps.Resolver != nil {
		identity, err := s.deps.Resolver.Resolve(ctx, deviceID)
		if err != nil {
			return iosenum.ExitGeneralError, err
		}
		s.log = s.log.WithField("device", identity.Name)
		s.targetOSVer = identity.OSVer
	}

	if s.in.Platform == iosenum.Simulator && deviceID == "" {
		created, err := s.provisionSimulator(ctx)
		if err != nil {
			return iosenum.ExitSimulatorError, err
		}
		deviceID = created
	}
	s.deviceID = deviceID

	hooks := retry.Hooks{
		Cleanup: s.teardownSimulator,
	}
	if s.in.Platform == iosenum.Simulator && s.simCtrl != nil {
		hooks.RecreateSimulator = s.recreateSimulator
		hooks.RebootSimulator = s.rebootSimulator
	}

	planner := retry.NewPlanner(s.in.Platform, hooks, s.log)
	return planner.Execute(ctx, s.attempt)
}

func (s *Session) provisionSimulator(ctx context.Context) (string, error) {
	if s.deps.Wrapper == nil {
		return "", fmt.Errorf("session: no vendor-tool wrapper configured for simulator provisioning")
	}
	ctrl := simulator.NewController(s.deps.Wrapper, s.log, "")
	result, err := ctrl.Create(ctx, s.in.DeviceType, s.in.OSVersion, s.in.NamePrefix)
	if err != nil {
		return "", err
	}
	if err := ctrl.Boot(ctx, s.in.Language); err != nil {
		return "", err
	}
	s.simCtrl = ctrl
	s.targetOSVer = result.OSVersion
	return result.UDID, nil
}

func (s *Session) recreateSimulator(ctx context.Context) error {
	if s.simCtrl == nil {
		return nil
	}
	_ = s.simCtrl.Delete(ctx, false)
	created, err := s.provisionSimulator(ctx)
	if err != nil {
		return err
	}
	s.deviceID = created
	return nil
}

func (s *Session) rebootSimulator(ctx context.Context) error {
	if s.simCtrl == nil {
		return nil
	}
	if err := s.simCtrl.Shutdown(ctx); err != nil {
		return err
	}
	return s.simCtrl.Boot(ctx, s.in.Language)
}

func (s *Session) teardownSimulator(ctx context.Context) error {
	if s.simCtrl == nil || s.in.KeepSimulator {
		return nil
	}
	if s.in.ToolchainPacked < toolchain.ModernToolchainCutoff {
		// Legacy toolchains only delete a shut-down simulator.
		if err := s.simCtrl.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("simulator shutdown before delete failed")
		}
		return s.simCtrl.Delete(ctx, false)
	}
	return s.simCtrl.Delete(ctx, true)
}

func (s *Session) buildStrategy() strategy.Strategy {
	switch s.kind {
	case strategy.ConfigurationDocument:
		return strategy.ConfigDocumentStrategy{Writer: s.deps.DocWriter}
	case strategy.ScaffoldingProject:
		return strategy.ScaffoldProjectStrategy{Generator: s.deps.ScaffoldGen}
	default:
		return strategy.DirectSpawnStrategy{}
	}
}

func (s *Session) attempt(ctx context.Context, iteration int) (retry.AttemptResult, error) {
	in := strategy.Input{
		WorkspaceDir:     s.workspaceDir,
		DeviceID:         s.deviceID,
		Platform:         s.in.Platform,
		TestType:         s.in.TestType,
		AppUnderTestPath: s.in.AppUnderTestPath,
		AppBundleID:      s.in.AppBundleID,
		TestBundlePath:   s.stagedBundle,
		XCTestRunPath:    s.in.XCTestRunPath,
		Launch:           s.launch,
		Signing:          s.signing,
		SucceededSignal:  s.in.SucceededSignal,
		FailedSignal:     s.in.FailedSignal,
		StartupTimeout:   s.launch.StartupTimeoutSeconds,
		ToolchainPacked:  s.in.ToolchainPacked,
		TargetOSVersion:  s.targetOSVer,
	}

	spec, err := s.buildStrategy().BuildRunSpec(ctx, in)
	if err != nil {
		return retry.AttemptResult{}, err
	}

	sup := supervisor.NewSupervisor(s.log)
	outcome, err := sup.Run(ctx, spec)
	if err != nil {
		return retry.AttemptResult{}, err
	}

	switch outcome.Verdict() {
	case supervisor.VerdictSucceeded:
		return retry.AttemptResult{Terminal: true, ExitCode: iosenum.ExitSucceeded}, nil
	case supervisor.VerdictFailed:
		return retry.AttemptResult{Terminal: true, ExitCode: iosenum.ExitTestFailed}, nil
	case supervisor.VerdictUnclassified:
		// Test started but ended neither succeeded nor failed: §4.4
		// step 5 makes this terminal, not a classifier input.
		return retry.AttemptResult{Terminal: true, ExitCode: iosenum.ExitGeneralError}, nil
	default:
		class, backoff := classifier.Classify(outcome, classifier.Config{
			Platform:     s.in.Platform,
			TestType:     s.in.TestType,
			AppBundleID:  in.AppBundleID,
			SimLogTail:   s.fetchSimLogTail(ctx),
			AppInstalled: s.deps.AppInstalled,
		})
		return retry.AttemptResult{Classification: class, Backoff: backoff}, nil
	}
}

// fetchSimLogTail captures the simulator's system log for the
// classifier's crash-signature scan (§4.5); best-effort, since a log
// fetch failure must never block classification of the underlying
// test failure.
func (s *Session) fetchSimLogTail(ctx context.Context) string {
	if s.simCtrl == nil {
		return ""
	}
	logPath := filepath.Join(s.workspaceDir, "simulator.log")
	if err := s.simCtrl.FetchLog(ctx, logPath, time.Time{}, time.Time{}); err != nil {
		s.log.WithError(err).Debug("fetching simulator log for classification failed")
		return ""
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		return ""
	}
	return string(data)
}
