package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/device"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

// deviceListEntry is the JSON shape of one resolvable identity,
// flattened from simulator and real-device listings alike.
type deviceListEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	SDK      string `json:"sdk"`
	Arch     string `json:"arch"`
	OSVer    string `json:"os_version,omitempty"`
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List resolvable device identities (simulators and attached real devices)",
	Long: `List every device identity the orchestrator can resolve: local
simulators (via xcrun simctl) and attached real devices (via xcrun
xctrace). This is a manual-operation command for CI debugging between
test runs; it does not take part in the test/simulator_test control
flow.`,
	Run: runDevicesCmd,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevicesCmd(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	wrapper := xcrun.NewWrapper(rootLog())

	var entries []deviceListEntry

	byRuntime, err := wrapper.ListDevices(ctx, "")
	if err != nil {
		outputAgentError("devices.list", agenterr.Wrap(agenterr.InternalError, err))
		return
	}
	for runtimeKey, devices := range byRuntime {
		for _, d := range devices {
			if !d.IsAvailable {
				continue
			}
			entries = append(entries, deviceListEntry{
				ID:       d.UDID,
				Name:     d.Name,
				Platform: string(iosenum.Simulator),
				SDK:      string(iosenum.IPhoneSimulator),
				Arch:     "host",
				OSVer:    runtimeKey,
			})
		}
	}

	realDevices, err := device.XctraceLister{}.ListRealDevices(ctx)
	if err == nil {
		for _, d := range realDevices {
			entries = append(entries, deviceListEntry{
				ID:       d.UDID,
				Name:     d.Name,
				Platform: string(iosenum.RealDevice),
				SDK:      string(iosenum.IPhoneOS),
				Arch:     string(d.Arch),
			})
		}
	} else if verbose {
		rootLog().WithError(err).Debug("real-device enumeration failed, listing simulators only")
	}

	outputSuccess("devices.list", entries)
}
