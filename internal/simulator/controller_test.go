package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/toolchain"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

// writeDeviceTypeProfile lays out a profile.plist under root the way
// deviceTypeProfilePath expects to find it for a modern (>= Xcode 11)
// toolchain, so sdkPlatformPath can point straight at root.
func writeDeviceTypeProfile(t *testing.T, root, deviceType, minVersion, maxVersion string) {
	t.Helper()
	dir := filepath.Join(root, "Library/Developer/CoreSimulator/Profiles",
		"DeviceTypes", deviceType+".simdevicetype", "Contents", "Resources")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	body := "<key>minRuntimeVersion</key><string>" + minVersion + "</string>"
	if maxVersion != "" {
		body += "<key>maxRuntimeVersion</key><string>" + maxVersion + "</string>"
	}
	content := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0"><dict>` + body + `</dict></plist>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.plist"), []byte(content), 0o644))
}

// scriptedCalls records one exec outcome per invocation, keyed by call
// order, so a test can drive a Controller through a scripted sequence
// of simctl responses without a real vendor toolchain.
type scriptedCall struct {
	stdout, stderr string
	err            error
}

type scriptedExecer struct {
	calls   int
	scripts []scriptedCall
}

func (s *scriptedExecer) run(ctx context.Context, name string, args []string) (string, string, error) {
	if s.calls >= len(s.scripts) {
		panic("scriptedExecer: no more scripted calls")
	}
	r := s.scripts[s.calls]
	s.calls++
	return r.stdout, r.stderr, r.err
}

func newTestController(scripts ...scriptedCall) (*Controller, *scriptedExecer) {
	fake := &scriptedExecer{scripts: scripts}
	w := xcrun.NewWrapperWithExecerForTest(xcrun.FuncExecer(fake.run))
	c := NewController(w, logrus.NewEntry(logrus.New()), "")
	c.toolchainVersion = func() (int, error) { return toolchain.ModernToolchainCutoff, nil }
	return c, fake
}

func runtimesJSON(versions ...string) string {
	var entries []string
	for _, v := range versions {
		entries = append(entries, `{"name":"iOS `+v+`","bundlePath":"","isAvailable":true,"availability":"(available)","version":"`+v+`","identifier":"com.apple.CoreSimulator.SimRuntime.iOS-`+v+`"}`)
	}
	return `{"runtimes":[` + joinComma(entries) + `]}`
}

func deviceTypesJSON(names ...string) string {
	var entries []string
	for _, n := range names {
		entries = append(entries, `{"name":"`+n+`","identifier":"com.apple.CoreSimulator.SimDeviceType.`+n+`"}`)
	}
	return `{"devicetypes":[` + joinComma(entries) + `]}`
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func devicesJSON(udid, state string) string {
	return `{"devices":{"com.apple.CoreSimulator.SimRuntime.iOS-17-4":[{"udid":"` +
		udid + `","name":"iPhone 15","state":"` + state + `","isAvailable":true}]}}`
}

func TestCreateSucceedsWhenDeviceReachesShutdown(t *testing.T) {
	// When both deviceType and osVersion are supplied, resolveDefaults
	// needs no catalog lookups, so only the create+list calls happen.
	c, fake := newTestController(
		scriptedCall{stdout: "ABCD-1234\n"},
		scriptedCall{stdout: devicesJSON("ABCD-1234", "Shutdown")},
	)
	res, err := c.Create(context.Background(), "iPhone 15", "17.4", "Test")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", res.UDID)
	assert.Equal(t, "Test-iPhone 15-17.4", res.Name)
	assert.Equal(t, 2, fake.calls)
}

func TestBootWaitsUntilBooted(t *testing.T) {
	c, _ := newTestController(
		scriptedCall{stdout: ""},
		scriptedCall{stdout: devicesJSON("ABCD", "Booted")},
	)
	c.udid = "ABCD"
	err := c.Boot(context.Background(), nil)
	require.NoError(t, err)
}

func TestShutdownIsIdempotentWhenAlreadyShutdown(t *testing.T) {
	c, fake := newTestController(
		scriptedCall{stdout: devicesJSON("ABCD", "Shutdown")},
	)
	c.udid = "ABCD"
	err := c.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls, "must not issue a shutdown command when already shutdown")
}

func TestShutdownRejectsCreatingState(t *testing.T) {
	c, _ := newTestController(
		scriptedCall{stdout: devicesJSON("OTHER", "Shutdown")}, // udid absent -> Creating
	)
	c.udid = "ABCD"
	err := c.Shutdown(context.Background())
	require.Error(t, err)
}

func TestGetStateReportsCreatingWhenAbsentFromListing(t *testing.T) {
	c, _ := newTestController(
		scriptedCall{stdout: devicesJSON("OTHER", "Booted")},
	)
	c.udid = "ABCD"
	state, err := c.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, iosenum.StateCreating, state)
}

func TestGetStateReportsUnknownForUnrecognizedValue(t *testing.T) {
	c, _ := newTestController(
		scriptedCall{stdout: devicesJSON("ABCD", "Weirdstate")},
	)
	c.udid = "ABCD"
	state, err := c.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, iosenum.StateUnknown, state)
}

func TestCreateSkipsNewestRuntimeIncompatibleWithDeviceProfile(t *testing.T) {
	platformRoot := t.TempDir()
	// iPhone 15 supports up to 13.99; 14.0 must be skipped in favor of 13.0.
	writeDeviceTypeProfile(t, platformRoot, "iPhone 15", "12.0", "13.255")

	c, fake := newTestController(
		scriptedCall{stdout: runtimesJSON("12.0", "13.0", "14.0")},
		scriptedCall{stdout: platformRoot},
		scriptedCall{stdout: "ABCD-1234\n"},
		scriptedCall{stdout: devicesJSON("ABCD-1234", "Shutdown")},
	)

	res, err := c.Create(context.Background(), "iPhone 15", "", "Test")
	require.NoError(t, err)
	assert.Equal(t, "13.0", res.OSVersion)
	assert.Equal(t, 4, fake.calls)
}

func TestCreateRejectsDeviceTypeWithNoCompatibleRuntime(t *testing.T) {
	platformRoot := t.TempDir()
	writeDeviceTypeProfile(t, platformRoot, "iPhone SE", "16.0", "")

	c, _ := newTestController(
		scriptedCall{stdout: runtimesJSON("12.0", "13.0", "14.0")},
		scriptedCall{stdout: platformRoot},
	)

	_, err := c.Create(context.Background(), "iPhone SE", "", "Test")
	require.Error(t, err)
}

func TestCreatePicksNewestCompatibleDeviceTypeForRequestedOS(t *testing.T) {
	platformRoot := t.TempDir()
	// iPhone 15 dropped support below 14.0; iPhone 14 still covers 13.0.
	writeDeviceTypeProfile(t, platformRoot, "iPhone 15", "14.0", "")
	writeDeviceTypeProfile(t, platformRoot, "iPhone 14", "12.0", "")

	c, fake := newTestController(
		scriptedCall{stdout: runtimesJSON("12.0", "13.0", "14.0")},
		scriptedCall{stdout: deviceTypesJSON("iPhone 14", "iPhone 15")},
		scriptedCall{stdout: platformRoot}, // iPhone 15 profile: incompatible
		scriptedCall{stdout: platformRoot}, // iPhone 14 profile: compatible
		scriptedCall{stdout: "ABCD-1234\n"},
		scriptedCall{stdout: devicesJSON("ABCD-1234", "Shutdown")},
	)

	res, err := c.Create(context.Background(), "", "13.0", "Test")
	require.NoError(t, err)
	assert.Equal(t, "iPhone 14", res.DeviceType)
	assert.Equal(t, 6, fake.calls)
}
