package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/simulator"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

var (
	createDeviceType string
	createOSVersion  string
	createNamePrefix string

	bootLanguage []string

	simUDID string

	deleteAsync bool

	logOutputPath string
	logStartAt    string
	logEndAt      string
)

// simulatorCmd groups the manual, operator-facing simulator lifecycle
// commands adapted from the Simulator Controller (§4.2). These exist
// for CI debugging between test runs; the test/simulator_test control
// flow drives the same Controller internally.
var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Manage ephemeral iOS simulators",
	Long: `Manage ephemeral iOS simulators directly: create, boot, shutdown,
delete, list, and fetch the system log. This mirrors the Simulator
Controller's own state machine so operators can reproduce a session's
lifecycle manually between CI runs.`,
}

var simulatorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new simulator instance",
	Run:   runSimulatorCreate,
}

var simulatorBootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot a simulator instance",
	Run:   runSimulatorBoot,
}

var simulatorShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Shut down a booted simulator instance",
	Run:   runSimulatorShutdown,
}

var simulatorDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a simulator instance",
	Run:   runSimulatorDelete,
}

var simulatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known simulator instances",
	Run:   runSimulatorList,
}

var simulatorLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Capture a simulator's system log to a file",
	Run:   runSimulatorLog,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)
	simulatorCmd.AddCommand(simulatorCreateCmd, simulatorBootCmd, simulatorShutdownCmd,
		simulatorDeleteCmd, simulatorListCmd, simulatorLogCmd)

	simulatorCreateCmd.Flags().StringVar(&createDeviceType, "device_type", "", "Device type name (e.g. 'iPhone 15')")
	simulatorCreateCmd.Flags().StringVar(&createOSVersion, "os_version", "", "iOS runtime version (e.g. '17.4')")
	simulatorCreateCmd.Flags().StringVar(&createNamePrefix, "new_simulator_name_prefix", "New", "Name prefix for the created simulator")

	simulatorBootCmd.Flags().StringVarP(&simUDID, "device", "d", "", "Simulator UDID to boot (required)")
	simulatorBootCmd.Flags().StringSliceVar(&bootLanguage, "language", nil, "AppleLanguages preference to set before boot")
	simulatorBootCmd.MarkFlagRequired("device")

	simulatorShutdownCmd.Flags().StringVarP(&simUDID, "device", "d", "", "Simulator UDID to shut down (required)")
	simulatorShutdownCmd.MarkFlagRequired("device")

	simulatorDeleteCmd.Flags().StringVarP(&simUDID, "device", "d", "", "Simulator UDID to delete (required)")
	simulatorDeleteCmd.Flags().BoolVar(&deleteAsync, "async", false, "Delete without waiting for completion")
	simulatorDeleteCmd.MarkFlagRequired("device")

	simulatorLogCmd.Flags().StringVarP(&simUDID, "device", "d", "", "Simulator UDID (required)")
	simulatorLogCmd.Flags().StringVar(&logOutputPath, "output", "simulator.log", "File to write the captured log to")
	simulatorLogCmd.Flags().StringVar(&logStartAt, "start", "", "Start time, RFC3339, optional")
	simulatorLogCmd.Flags().StringVar(&logEndAt, "end", "", "End time, RFC3339, optional")
	simulatorLogCmd.MarkFlagRequired("device")
}

func newSimulatorController(udid string) *simulator.Controller {
	return simulator.NewController(xcrun.NewWrapper(rootLog()), rootLog(), udid)
}

func runSimulatorCreate(cmd *cobra.Command, args []string) {
	ctrl := newSimulatorController("")
	result, err := ctrl.Create(context.Background(), createDeviceType, createOSVersion, createNamePrefix)
	if err != nil {
		outputAgentErrorFrom("simulator.create", err)
		return
	}
	outputSuccess("simulator.create", result)
}

func runSimulatorBoot(cmd *cobra.Command, args []string) {
	ctrl := newSimulatorController(simUDID)
	if err := ctrl.Boot(context.Background(), bootLanguage); err != nil {
		outputAgentErrorFrom("simulator.boot", err)
		return
	}
	outputSuccess("simulator.boot", map[string]string{"udid": simUDID, "state": string(iosenum.StateBooted)})
}

func runSimulatorShutdown(cmd *cobra.Command, args []string) {
	ctrl := newSimulatorController(simUDID)
	if err := ctrl.Shutdown(context.Background()); err != nil {
		outputAgentErrorFrom("simulator.shutdown", err)
		return
	}
	outputSuccess("simulator.shutdown", map[string]string{"udid": simUDID, "state": string(iosenum.StateShutdown)})
}

func runSimulatorDelete(cmd *cobra.Command, args []string) {
	ctrl := newSimulatorController(simUDID)
	if err := ctrl.Delete(context.Background(), deleteAsync); err != nil {
		outputAgentErrorFrom("simulator.delete", err)
		return
	}
	outputSuccess("simulator.delete", map[string]string{"udid": simUDID})
}

func runSimulatorList(cmd *cobra.Command, args []string) {
	runDevicesCmd(cmd, args)
}

func runSimulatorLog(cmd *cobra.Command, args []string) {
	ctrl := newSimulatorController(simUDID)
	start, _ := time.Parse(time.RFC3339, logStartAt)
	end, _ := time.Parse(time.RFC3339, logEndAt)
	if err := ctrl.FetchLog(context.Background(), logOutputPath, start, end); err != nil {
		outputAgentErrorFrom("simulator.log", err)
		return
	}
	outputSuccess("simulator.log", map[string]string{"udid": simUDID, "path": logOutputPath})
}

// outputAgentErrorFrom adapts an arbitrary error into the CLI's JSON
// error envelope, unwrapping an *agenterr.AgentError when present.
func outputAgentErrorFrom(action string, err error) {
	var agentErr *agenterr.AgentError
	if errors.As(err, &agentErr) {
		outputAgentError(action, agentErr)
		return
	}
	outputAgentError(action, agenterr.Wrap(agenterr.InternalError, err))
}
