// Package strategy implements the three test-preparation strategies
// named by §4.1: configuration-document, scaffolding-project, and
// direct-spawn. Each builds a supervisor.RunSpec from a common Input;
// document/project generation is delegated to small collaborator
// interfaces that sit outside this module's scope (§1), so the
// selection and command-assembly logic here is exercised without a
// real Xcode toolchain.
package strategy

import (
	"context"
	"fmt"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/config"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/supervisor"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/toolchain"
)

// Kind identifies which of the three §4.1 strategies applies.
type Kind string

const (
	ConfigurationDocument Kind = "configuration_document"
	ScaffoldingProject    Kind = "scaffolding_project"
	DirectSpawn           Kind = "direct_spawn"
)

// modernToolchainCutoff is the packed toolchain version (§6 encoding)
// below which the configuration-document path is unavailable and unit
// tests fall back to the scaffolding-project path. UI tests have no
// legacy path at all: Session.Prepare rejects them outright below the
// cutoff (§4.1's "UI test requested under a toolchain too old").
const modernToolchainCutoff = toolchain.ModernToolchainCutoff

// Select picks the preparation strategy for testType, honoring §4.1's
// rejection rules: a UI test under a pre-cutoff toolchain, or a
// hostless logic test targeting a real device, both fail Prepare
// immediately rather than selecting a strategy.
func Select(testType iosenum.TestType, platform iosenum.Platform, toolchainVersion int) (Kind, error) {
	switch testType {
	case iosenum.HostlessUnitTest:
		if platform == iosenum.RealDevice {
			return "", agenterr.IllegalArgumentError("hostless logic tests are not supported on a real device")
		}
		return DirectSpawn, nil
	case iosenum.UITest:
		if toolchainVersion < modernToolchainCutoff {
			return "", agenterr.IllegalArgumentError("UI tests require a toolchain at or above the configuration-document cutoff")
		}
		return ConfigurationDocument, nil
	case iosenum.UnitTest:
		if toolchainVersion < modernToolchainCutoff {
			return ScaffoldingProject, nil
		}
		return ConfigurationDocument, nil
	default:
		return "", agenterr.IllegalArgumentError(fmt.Sprintf("unrecognized test type: %s", testType))
	}
}

// Input carries everything a strategy needs to assemble a RunSpec.
// Fields not relevant to a given strategy are simply left unused by
// it (e.g. XCTestRunPath is meaningless to DirectSpawnStrategy).
type Input struct {
	WorkspaceDir     string
	DeviceID         string
	Platform         iosenum.Platform
	TestType         iosenum.TestType
	AppUnderTestPath string
	TestBundlePath   string
	XCTestRunPath    string
	AppBundleID      string
	Launch           config.LaunchOptions
	Signing          config.SigningOptions
	SucceededSignal  string
	FailedSignal     string
	StartupTimeout   int
	ToolchainPacked  int
	TargetOSVersion  string
}

// Strategy assembles a supervisor.RunSpec for one test attempt.
type Strategy interface {
	BuildRunSpec(ctx context.Context, in Input) (supervisor.RunSpec, error)
}

// ConfigDocumentWriter is the out-of-scope collaborator that renders
// an xctestrun configuration document for the modern toolchain path
// (§1 excludes xctestrun generation internals from this core).
type ConfigDocumentWriter interface {
	WriteXCTestRunDocument(ctx context.Context, in Input, destPath string) error
}

// ScaffoldProjectGenerator is the out-of-scope collaborator that
// materializes a throwaway Xcode project wrapping the legacy unit test
// bundle (§1 excludes scaffolding-project generation internals).
type ScaffoldProjectGenerator interface {
	GenerateProject(ctx context.Context, in Input, destDir string) (projectPath string, err error)
}

// envOverlay applies the §6 env-var convention: on a simulator target
// every key is forwarded prefixed with SIMCTL_CHILD_; on a real device
// it is forwarded as-is. A simulator target on a modern toolchain
// running an older OS additionally gets DYLD_FALLBACK_LIBRARY_PATH
// pointed at the bundled swift-5.0 libraries, working around
// https://github.com/bazelbuild/rules_apple/issues/684.
func envOverlay(in Input) map[string]string {
	vars := map[string]string{}
	for k, v := range in.Launch.EnvVars {
		vars[k] = v
	}
	if in.Platform == iosenum.Simulator && toolchain.NeedsSwift5Fallback(in.ToolchainPacked, in.TargetOSVersion) {
		if dir, err := toolchain.DeveloperDir(); err == nil {
			if libDir, ok := toolchain.Swift5FallbackLibDir(dir); ok {
				vars["DYLD_FALLBACK_LIBRARY_PATH"] = libDir
			}
		}
	}
	env := map[string]string{}
	for k, v := range vars {
		if in.Platform == iosenum.Simulator {
			env[config.SimctlChildKey(k)] = v
		} else {
			env[k] = v
		}
	}
	return env
}

func signal(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

func runSpecBase(in Input) supervisor.RunSpec {
	return supervisor.RunSpec{
		Env:             envOverlay(in),
		Platform:        in.Platform,
		TestType:        in.TestType,
		SucceededSignal: signal(in.SucceededSignal, "** TEST SUCCEEDED **"),
		FailedSignal:    signal(in.FailedSignal, "** TEST FAILED **"),
		AppBundleID:     in.AppBundleID,
		StartupTimeout:  toSeconds(in.StartupTimeout),
	}
}
