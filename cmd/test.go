package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/device"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/session"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/toolchain"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

var (
	testPlatform           string
	appUnderTestPath       string
	testBundlePath         string
	xctestrunPath          string
	testTypeFlag           string
	launchOptionsJSONPath  string
	signingOptionsJSONPath string
	workDirFlag            string
	outputDirFlag          string
	keepWorkspace          bool
	keepSimulator          bool

	simDeviceType string
	simOSVersion  string
	simNamePrefix string

	testDeviceID string
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a test bundle against an existing device or simulator",
	Long: `Run a unit or UI test bundle against the device identified by
--id, which may be a real device UDID or an already-booted simulator
UDID. Exits with the §3 exit-code taxonomy.`,
	Run: runTestCmd,
}

var simulatorTestCmd = &cobra.Command{
	Use:   "simulator_test",
	Short: "Run a test bundle on a freshly provisioned simulator",
	Long: `Run a unit or UI test bundle on a simulator created for this
invocation. --device_type and --os_version select the simulator per
§4.2's default-selection rules when left blank. The simulator is torn
down at the end of the run unless --keep-simulator is set.`,
	Run: runSimulatorTestCmd,
}

func init() {
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(simulatorTestCmd)

	for _, c := range []*cobra.Command{testCmd, simulatorTestCmd} {
		c.Flags().StringVar(&testPlatform, "platform", string(iosenum.Simulator), "ios_device or ios_simulator")
		c.Flags().StringVar(&appUnderTestPath, "app_under_test_path", "", "Path to the app under test (UI tests only)")
		c.Flags().StringVar(&testBundlePath, "test_bundle_path", "", "Path to the test bundle (required)")
		c.Flags().StringVar(&xctestrunPath, "xctestrun", "", "Path to a pre-built xctestrun document")
		c.Flags().StringVar(&testTypeFlag, "test_type", "", "xctest, xcuitest, or logic_test; inferred when omitted")
		c.Flags().StringVar(&launchOptionsJSONPath, "launch_options_json_path", "", "Path to a launch-options JSON document")
		c.Flags().StringVar(&signingOptionsJSONPath, "signing_options_json_path", "", "Path to a signing-options JSON document")
		c.Flags().StringVar(&workDirFlag, "work_dir", "", "Workspace directory; a temp directory is used when omitted")
		c.Flags().StringVar(&outputDirFlag, "output_dir", "", "Output directory for captured artifacts")
		c.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "Do not remove the workspace on exit")
		c.MarkFlagRequired("test_bundle_path")
	}

	testCmd.Flags().StringVarP(&testDeviceID, "id", "", "", "Target device UDID (required)")
	testCmd.MarkFlagRequired("id")

	simulatorTestCmd.Flags().StringVar(&simDeviceType, "device_type", "", "Simulator device type, e.g. 'iPhone 15'")
	simulatorTestCmd.Flags().StringVar(&simOSVersion, "os_version", "", "Simulator OS version, e.g. '17.4'")
	simulatorTestCmd.Flags().StringVar(&simNamePrefix, "new_simulator_name_prefix", "New", "Name prefix for the created simulator")
	simulatorTestCmd.Flags().BoolVar(&keepSimulator, "keep-simulator", false, "Do not delete the simulator on exit")
}

func buildInputs(platform iosenum.Platform) session.Inputs {
	var toolchainPacked int
	if v, err := toolchain.NewCache().Version(); err == nil {
		toolchainPacked = v
	}
	var testType iosenum.TestType
	switch testTypeFlag {
	case "xctest":
		testType = iosenum.UnitTest
	case "xcuitest":
		testType = iosenum.UITest
	case "logic_test":
		testType = iosenum.HostlessUnitTest
	}
	return session.Inputs{
		AppUnderTestPath:   appUnderTestPath,
		TestBundlePath:     testBundlePath,
		XCTestRunPath:      xctestrunPath,
		TestType:           testType,
		Platform:           platform,
		LaunchOptionsPath:  launchOptionsJSONPath,
		SigningOptionsPath: signingOptionsJSONPath,
		WorkDir:            workDirFlag,
		OutputDir:          outputDirFlag,
		KeepWorkspace:      keepWorkspace,
		KeepSimulator:      keepSimulator,
		ToolchainPacked:    toolchainPacked,
	}
}

func buildSessionDeps() session.Deps {
	wrapper := xcrun.NewWrapper(rootLog())
	return session.Deps{
		Wrapper:  wrapper,
		Resolver: device.NewResolver(wrapper, device.XctraceLister{}),
		Log:      rootLog(),
	}
}

func runTestCmd(cmd *cobra.Command, args []string) {
	platform := iosenum.Platform(testPlatform)
	sess := session.New(buildSessionDeps())
	ctx := context.Background()

	if err := sess.Prepare(ctx, buildInputs(platform)); err != nil {
		exitWithAgentError(err)
		return
	}
	defer sess.Close(ctx)

	code, err := sess.Run(ctx, testDeviceID)
	if err != nil {
		exitWithAgentError(err)
		return
	}
	os.Exit(int(code))
}

func runSimulatorTestCmd(cmd *cobra.Command, args []string) {
	sess := session.New(buildSessionDeps())
	ctx := context.Background()

	in := buildInputs(iosenum.Simulator)
	in.DeviceType = simDeviceType
	in.OSVersion = simOSVersion
	in.NamePrefix = simNamePrefix

	if err := sess.Prepare(ctx, in); err != nil {
		exitWithAgentError(err)
		return
	}
	defer sess.Close(ctx)

	code, err := sess.Run(ctx, "")
	if err != nil {
		exitWithAgentError(err)
		return
	}
	os.Exit(int(code))
}

// exitWithAgentError prints a diagnostic line to stderr and exits with
// the general-error code (§3); the structured JSON envelope is
// reserved for the manual devices/simulator commands, per §7's
// "final line of host stdout is unchanged" invariant.
func exitWithAgentError(err error) {
	var agentErr *agenterr.AgentError
	if !errors.As(err, &agentErr) {
		agentErr = agenterr.Wrap(agenterr.InternalError, err)
	}
	fmt.Fprintln(os.Stderr, agentErr.Error())
	os.Exit(int(iosenum.ExitGeneralError))
}
