package xcrun

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
)

// SimDevice is one simulator instance as listed by `simctl list
// devices --json`, grounded in the teacher's simctlDevice shape.
type SimDevice struct {
	UDID        string `json:"udid"`
	Name        string `json:"name"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
	DataPath    string `json:"dataPath,omitempty"`
	LogPath     string `json:"logPath,omitempty"`
}

// DeviceType is one entry of `simctl list devicetypes --json`. Its
// min/max supported OS versions are not part of this listing — §6
// locates those in the device type's profile.plist instead (see
// Controller.deviceTypeBounds).
type DeviceType struct {
	Name          string `json:"name"`
	Identifier    string `json:"identifier"`
	ProductFamily string `json:"productFamily,omitempty"`
}

// Runtime is one entry of `simctl list runtimes --json`.
type Runtime struct {
	Name         string `json:"name"`
	BundlePath   string `json:"bundlePath"`
	IsAvailable  bool   `json:"isAvailable"`
	Availability string `json:"availability"`
	Version      string `json:"version"`
	Identifier   string `json:"identifier"`
}

// Available implements §6's runtime-availability filter: entries whose
// isAvailable is false, or whose availability string names
// "unavailable", are excluded.
func (r Runtime) Available() bool {
	if !r.IsAvailable {
		return false
	}
	return !containsUnavailable(r.Availability)
}

func containsUnavailable(s string) bool {
	for i := 0; i+len("unavailable") <= len(s); i++ {
		if s[i:i+len("unavailable")] == "unavailable" {
			return true
		}
	}
	return false
}

type devicesResponse struct {
	Devices map[string][]SimDevice `json:"devices"`
}

type deviceTypesResponse struct {
	DeviceTypes []DeviceType `json:"devicetypes"`
}

type runtimesResponse struct {
	Runtimes []Runtime `json:"runtimes"`
}

// ListDevices runs `simctl list devices --json` (optionally scoped to
// a custom device set) and returns its devices grouped by runtime
// identifier, as the JSON listing keys them; the map is not flattened.
func (w *Wrapper) ListDevices(ctx context.Context, deviceSetPath string) (map[string][]SimDevice, error) {
	args := simctlArgs(deviceSetPath, "list", "devices", "--json")
	out, err := w.Run(ctx, "xcrun", args...)
	if err != nil {
		return nil, err
	}
	var resp devicesResponse
	if jsonErr := json.Unmarshal([]byte(out.Combined), &resp); jsonErr != nil {
		return nil, fmt.Errorf("xcrun: parsing simctl devices output: %w", jsonErr)
	}
	return resp.Devices, nil
}

// ListDeviceTypes runs `simctl list devicetypes --json`.
func (w *Wrapper) ListDeviceTypes(ctx context.Context) ([]DeviceType, error) {
	out, err := w.Run(ctx, "xcrun", "simctl", "list", "devicetypes", "--json")
	if err != nil {
		return nil, err
	}
	var resp deviceTypesResponse
	if jsonErr := json.Unmarshal([]byte(out.Combined), &resp); jsonErr != nil {
		return nil, fmt.Errorf("xcrun: parsing simctl devicetypes output: %w", jsonErr)
	}
	return resp.DeviceTypes, nil
}

// ListRuntimes runs `simctl list runtimes --json`, returning only the
// entries §6 considers available.
func (w *Wrapper) ListRuntimes(ctx context.Context) ([]Runtime, error) {
	out, err := w.Run(ctx, "xcrun", "simctl", "list", "runtimes", "--json")
	if err != nil {
		return nil, err
	}
	var resp runtimesResponse
	if jsonErr := json.Unmarshal([]byte(out.Combined), &resp); jsonErr != nil {
		return nil, fmt.Errorf("xcrun: parsing simctl runtimes output: %w", jsonErr)
	}
	available := resp.Runtimes[:0]
	for _, r := range resp.Runtimes {
		if r.Available() {
			available = append(available, r)
		}
	}
	return available, nil
}

func simctlArgs(deviceSetPath string, rest ...string) []string {
	if deviceSetPath == "" {
		return append([]string{"simctl"}, rest...)
	}
	return append([]string{"simctl", "--set", deviceSetPath}, rest...)
}

// ParseSimState adapts a raw simctl state string to the closed
// enumeration used throughout the controller.
func ParseSimState(raw string) iosenum.SimState {
	return iosenum.ParseSimState(raw)
}
