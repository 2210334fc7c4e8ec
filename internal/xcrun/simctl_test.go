package xcrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execerReturning(stdout string) execer {
	return &scriptedExecer{results: []struct {
		stdout, stderr string
		err            error
	}{{stdout: stdout}}}
}

func TestListDevicesGroupsByRuntime(t *testing.T) {
	w := newWrapperWithExecer(execerReturning(`{
		"devices": {
			"com.apple.CoreSimulator.SimRuntime.iOS-17-4": [
				{"udid": "AAAA", "name": "iPhone 15", "state": "Shutdown", "isAvailable": true}
			]
		}
	}`))

	devices, err := w.ListDevices(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, devices["com.apple.CoreSimulator.SimRuntime.iOS-17-4"], 1)
	assert.Equal(t, "AAAA", devices["com.apple.CoreSimulator.SimRuntime.iOS-17-4"][0].UDID)
}

func TestListRuntimesFiltersUnavailable(t *testing.T) {
	w := newWrapperWithExecer(execerReturning(`{
		"runtimes": [
			{"name": "iOS 17.4", "isAvailable": true, "availability": "(available)", "identifier": "iOS-17-4"},
			{"name": "iOS 12.0", "isAvailable": false, "availability": "(unavailable, runtime path not found)", "identifier": "iOS-12-0"},
			{"name": "iOS 13.0", "isAvailable": true, "availability": "(unavailable, some reason)", "identifier": "iOS-13-0"}
		]
	}`))

	runtimes, err := w.ListRuntimes(context.Background())
	require.NoError(t, err)
	require.Len(t, runtimes, 1)
	assert.Equal(t, "iOS-17-4", runtimes[0].Identifier)
}

func TestSimctlArgsScopesToDeviceSet(t *testing.T) {
	assert.Equal(t, []string{"simctl", "list", "devices"}, simctlArgs("", "list", "devices"))
	assert.Equal(t, []string{"simctl", "--set", "/tmp/set", "list", "devices"}, simctlArgs("/tmp/set", "list", "devices"))
}
