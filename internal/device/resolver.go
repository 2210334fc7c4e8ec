// Package device implements the Device Resolver of §4.6/§3: mapping
// an opaque device identity string to its {Platform, SDK, Arch}
// triple. Real-device enumeration and Mach-O architecture extraction
// are out-of-scope external collaborators (§1); their contracts are
// captured here as small interfaces so the resolver's own logic is
// exercised without needing real hardware or a Mach-O parser.
package device

import (
	"context"
	"runtime"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

// Identity is a fully resolved device identity.
type Identity struct {
	ID       string
	Platform iosenum.Platform
	SDK      iosenum.SDK
	Arch     iosenum.Arch
	Name     string
	OSVer    string
}

// RealDevice is one physical device as reported by the out-of-scope
// "list attached real devices" vendor-tool contract of §6.
type RealDevice struct {
	UDID string
	Name string
	Arch iosenum.Arch
}

// RealDeviceLister is the collaborator interface for the real-device
// enumeration black box; the production binary backs it with a thin
// `xcrun xctrace list devices` adapter that is intentionally not part
// of this core (§1 excludes deep device-tooling integration).
type RealDeviceLister interface {
	ListRealDevices(ctx context.Context) ([]RealDevice, error)
}

// Resolver resolves device identities for both simulators (read live
// via the vendor-tool wrapper) and real devices (read via the
// injected RealDeviceLister).
type Resolver struct {
	wrapper    *xcrun.Wrapper
	realDevice RealDeviceLister
}

// NewResolver builds a Resolver. realDevice may be nil if the caller
// never targets physical hardware (e.g. the simulator_test CLI path).
func NewResolver(wrapper *xcrun.Wrapper, realDevice RealDeviceLister) *Resolver {
	return &Resolver{wrapper: wrapper, realDevice: realDevice}
}

// Resolve maps id to its full Identity. A simulator UDID is looked up
// in `simctl list devices`; anything not found there is looked up
// among attached real devices. Neither matching is an IllegalArgument
// because at this layer a missing device is a runtime condition, not
// a malformed invocation — callers needing §4.1's validation translate
// this into IllegalArgument only when it occurs during Prepare.
func (r *Resolver) Resolve(ctx context.Context, id string) (Identity, error) {
	byRuntime, err := r.wrapper.ListDevices(ctx, "")
	if err != nil {
		return Identity{}, err
	}
	for runtimeKey, devices := range byRuntime {
		for _, d := range devices {
			if d.UDID == id {
				return Identity{
					ID:       id,
					Platform: iosenum.Simulator,
					SDK:      iosenum.IPhoneSimulator,
					Arch:     hostArch(),
					Name:     d.Name,
					OSVer:    osVersionFromRuntime(runtimeKey),
				}, nil
			}
		}
	}

	if r.realDevice != nil {
		return r.resolveAmongRealDevices(ctx, id)
	}

	return Identity{}, agenterr.New(agenterr.DeviceNotFound, "device not found: "+id).
		WithDetails(map[string]interface{}{"device_id": id})
}

// resolveAmongRealDevices is split out from Resolve so the real-device
// branch can be exercised without a live simctl wrapper.
func (r *Resolver) resolveAmongRealDevices(ctx context.Context, id string) (Identity, error) {
	realDevices, err := r.realDevice.ListRealDevices(ctx)
	if err != nil {
		return Identity{}, err
	}
	for _, d := range realDevices {
		if d.UDID == id {
			return Identity{
				ID:       id,
				Platform: iosenum.RealDevice,
				SDK:      iosenum.IPhoneOS,
				Arch:     d.Arch,
				Name:     d.Name,
			}, nil
		}
	}
	return Identity{}, agenterr.New(agenterr.DeviceNotFound, "device not found: "+id).
		WithDetails(map[string]interface{}{"device_id": id})
}

// hostArch defaults a simulator's architecture to the host's native
// arch, since simulators execute host-native code unless explicitly
// overridden (an override path this core does not need: no component
// of the test run reads Identity.Arch).
func hostArch() iosenum.Arch {
	switch runtime.GOARCH {
	case "arm64":
		return iosenum.ArchARM64
	default:
		return iosenum.ArchX86_64
	}
}

// osVersionFromRuntime extracts "17.4" out of
// "com.apple.CoreSimulator.SimRuntime.iOS-17-4", mirroring the
// teacher's extractOSVersion helper.
func osVersionFromRuntime(runtimeKey string) string {
	const prefix = "iOS-"
	idx := indexOf(runtimeKey, prefix)
	if idx < 0 {
		return "unknown"
	}
	version := runtimeKey[idx+len(prefix):]
	out := make([]byte, 0, len(version))
	for i := 0; i < len(version); i++ {
		if version[i] == '-' {
			out = append(out, '.')
		} else {
			out = append(out, version[i])
		}
	}
	return string(out)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
