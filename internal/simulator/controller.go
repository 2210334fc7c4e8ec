// Package simulator implements the Simulator Controller of §4.2: the
// lifecycle of one ephemeral simulator instance, from creation through
// boot, shutdown, deletion and log capture. Every underlying command
// goes through the vendor-tool wrapper in internal/xcrun, which already
// carries the transient-failure retry policy of §4.3.
package simulator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/iosenum"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/plist"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/toolchain"
	"github.com/neoforge-dev/ios-test-orchestrator/internal/xcrun"
)

const (
	creatingToShutdownTimeout = 10 * time.Second
	bootTimeout               = 10 * time.Second
	shutdownTimeout           = 30 * time.Second
	createMaxAttempts         = 3
	createRetryInterval       = 2 * time.Second
	stateCheckInterval        = 500 * time.Millisecond

	runtimeIDPrefix = "com.apple.CoreSimulator.SimRuntime.iOS-"
)

// Controller manages one simulator instance identified by udid once
// created. A zero-value Controller is only useful via Create, which
// assigns udid on success.
type Controller struct {
	wrapper *xcrun.Wrapper
	log     *logrus.Entry
	udid    string

	// toolchainVersion resolves the packed Xcode version used to branch
	// the profile-directory layout in deviceTypeProfilePath. Defaults to
	// probing the real toolchain; tests substitute a fake.
	toolchainVersion func() (int, error)
}

// NewController wires a Controller to the vendor-tool wrapper. udid may
// be empty for a Controller that is about to Create a new instance, or
// set for one wrapping an already-created simulator.
func NewController(wrapper *xcrun.Wrapper, log *logrus.Entry, udid string) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Controller{wrapper: wrapper, log: log, udid: udid, toolchainVersion: toolchain.NewCache().Version}
}

// UDID returns the simulator identity, empty until Create succeeds.
func (c *Controller) UDID() string { return c.udid }

// CreateResult reports the resolved parameters of a newly created
// simulator, mirroring the original tuple of (id, device_type,
// os_version, name).
type CreateResult struct {
	UDID       string
	DeviceType string
	OSVersion  string
	Name       string
}

// Create provisions a new simulator, applying §4.2's default-selection
// rules when deviceType or osVersion are left blank, and retrying up to
// createMaxAttempts times with a fixed backoff when the new instance
// fails to reach Shutdown within creatingToShutdownTimeout.
func (c *Controller) Create(ctx context.Context, deviceType, osVersion, namePrefix string) (CreateResult, error) {
	resolvedType, resolvedOS, err := c.resolveDefaults(ctx, deviceType, osVersion)
	if err != nil {
		return CreateResult{}, err
	}
	if namePrefix == "" {
		namePrefix = "New"
	}
	name := fmt.Sprintf("%s-%s-%s", namePrefix, resolvedType, resolvedOS)
	runtimeID := runtimeIDPrefix + strings.ReplaceAll(resolvedOS, ".", "-")

	var lastErr error
	for attempt := 1; attempt <= createMaxAttempts; attempt++ {
		out, err := c.wrapper.Run(ctx, "xcrun", "simctl", "create", name, resolvedType, runtimeID)
		if err != nil {
			return CreateResult{}, fmt.Errorf("simulator: create: %w", err)
		}
		udid := strings.TrimSpace(out.Combined)
		candidate := &Controller{wrapper: c.wrapper, log: c.log, udid: udid}

		waitErr := candidate.waitForState(ctx, iosenum.StateShutdown, creatingToShutdownTimeout)
		if waitErr == nil {
			c.udid = udid
			return CreateResult{UDID: udid, DeviceType: resolvedType, OSVersion: resolvedOS, Name: name}, nil
		}

		lastErr = waitErr
		c.log.WithError(waitErr).WithField("udid", udid).Warn("simulator did not reach shutdown after create, rolling back")
		_ = candidate.Delete(ctx, false)
		if attempt != createMaxAttempts {
			time.Sleep(createRetryInterval)
		}
	}
	return CreateResult{}, agenterr.Wrap(agenterr.SimulatorTimeout, lastErr).
		WithDetails(map[string]interface{}{"attempts": createMaxAttempts})
}

// Boot starts the simulator and blocks until it reaches Booted or
// bootTimeout elapses. When languages is non-empty it sets the
// Apple-Languages preference first and respings the front end.
func (c *Controller) Boot(ctx context.Context, languages []string) error {
	if _, err := c.wrapper.Run(ctx, "xcrun", "simctl", "boot", c.udid); err != nil {
		return fmt.Errorf("simulator: boot: %w", err)
	}
	if len(languages) > 0 {
		args := append([]string{"simctl", "spawn", c.udid,
			"defaults", "write", "Apple Global Domain", "AppleLanguages", "-array"}, languages...)
		if _, err := c.wrapper.Run(ctx, "xcrun", args...); err != nil {
			return fmt.Errorf("simulator: set language: %w", err)
		}
		if _, err := c.wrapper.Run(ctx, "xcrun", "simctl", "spawn", c.udid, "notifyutil", "-p",
			"com.apple.springboard.launchSpringBoard"); err != nil {
			c.log.WithError(err).Warn("respring after language change failed, continuing")
		}
	}
	return c.waitForState(ctx, iosenum.StateBooted, bootTimeout)
}

// Shutdown stops the simulator, blocking until Shutdown or
// shutdownTimeout elapses. A second call on an already-Shutdown
// instance succeeds silently; calling while Creating is an error.
func (c *Controller) Shutdown(ctx context.Context) error {
	state, err := c.GetState(ctx)
	if err != nil {
		return err
	}
	switch state {
	case iosenum.StateShutdown:
		return nil
	case iosenum.StateCreating:
		return agenterr.New(agenterr.SimulatorError, "cannot shut down a simulator still being created").
			WithDetails(map[string]interface{}{"udid": c.udid})
	}

	out, err := c.wrapper.Run(ctx, "xcrun", "simctl", "shutdown", c.udid)
	if err != nil {
		if strings.Contains(out.Combined, "Unable to shutdown device in current state: Shutdown") {
			return nil
		}
		return fmt.Errorf("simulator: shutdown: %w", err)
	}
	return c.waitForState(ctx, iosenum.StateShutdown, shutdownTimeout)
}

// Delete removes the simulator. Asynchronous delete dispatches the
// underlying command and returns immediately; synchronous delete
// blocks and surfaces failure. Either way, the on-disk log directory
// is removed once the delete is underway.
func (c *Controller) Delete(ctx context.Context, async bool) error {
	var deleteErr error
	if async {
		go func() {
			if _, err := c.wrapper.Run(context.Background(), "xcrun", "simctl", "delete", c.udid); err != nil {
				c.log.WithError(err).WithField("udid", c.udid).Warn("async simulator delete failed")
			}
		}()
	} else {
		if _, err := c.wrapper.Run(ctx, "xcrun", "simctl", "delete", c.udid); err != nil {
			deleteErr = fmt.Errorf("simulator: delete: %w", err)
		}
	}

	logDir := c.logRootDir()
	if logDir != "" {
		_ = os.RemoveAll(logDir)
	}
	return deleteErr
}

// GetState reports the simulator's current lifecycle state by
// consulting `simctl list devices --json`. A udid absent from the
// listing is reported as Creating (it has not registered yet); an
// unrecognized state string is reported as Unknown.
func (c *Controller) GetState(ctx context.Context) (iosenum.SimState, error) {
	byRuntime, err := c.wrapper.ListDevices(ctx, "")
	if err != nil {
		return iosenum.StateUnknown, err
	}
	for _, devices := range byRuntime {
		for _, d := range devices {
			if d.UDID == c.udid {
				return xcrun.ParseSimState(d.State), nil
			}
		}
	}
	return iosenum.StateCreating, nil
}

// FetchLog captures the simulator's system log into outputPath,
// constraining the window to [start, end] when non-zero, mirroring the
// `log show --style syslog` invocation the original tooling uses.
func (c *Controller) FetchLog(ctx context.Context, outputPath string, start, end time.Time) error {
	args := []string{"simctl", "spawn", c.udid, "log", "show", "--style", "syslog"}
	if !start.IsZero() {
		args = append(args, "--start", start.Format("2006-01-02 15:04:05"))
	}
	if !end.IsZero() {
		args = append(args, "--end", end.Format("2006-01-02 15:04:05"))
	}
	out, err := c.wrapper.Run(ctx, "xcrun", args...)
	if err != nil {
		return fmt.Errorf("simulator: fetch log: %w", err)
	}
	return os.WriteFile(outputPath, []byte(out.Combined), 0o644)
}

func (c *Controller) waitForState(ctx context.Context, want iosenum.SimState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stateCheckInterval):
		}
		state, err := c.GetState(ctx)
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
	}
	return agenterr.New(agenterr.SimulatorTimeout, fmt.Sprintf("timed out waiting for simulator state %s", want)).
		WithDetails(map[string]interface{}{"udid": c.udid, "want_state": string(want)})
}

func (c *Controller) logRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil || c.udid == "" {
		return ""
	}
	return home + "/Library/Logs/CoreSimulator/" + c.udid
}

// unboundedMaxOS stands in for a device type whose profile.plist carries
// no maxRuntimeVersion: per simtype_profile.py that means "supports the
// max OS version of the current platform", i.e. no stricter ceiling than
// whatever runtimes simctl reports.
const unboundedMaxOS = 1e9

// resolveDefaults implements §4.2's device/OS selection rules using the
// runtime and device-type catalogs reported by simctl, filtered through
// each candidate device type's profile-metadata compatibility bounds
// (§6; grounded in simtype_profile.py's min/max_os_version).
func (c *Controller) resolveDefaults(ctx context.Context, deviceType, osVersion string) (string, string, error) {
	if deviceType != "" && osVersion != "" {
		return deviceType, osVersion, nil
	}

	runtimes, err := c.wrapper.ListRuntimes(ctx)
	if err != nil {
		return "", "", err
	}
	versions := iosRuntimeVersions(runtimes)
	if len(versions) == 0 {
		return "", "", agenterr.New(agenterr.SimulatorError, "no available iOS simulator runtimes")
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(versions)))

	if deviceType != "" {
		// Device given, OS not: newest available runtime within this
		// device type's profile-reported compatibility range.
		minOS, maxOS, err := c.deviceTypeBounds(ctx, deviceType)
		if err != nil {
			return "", "", err
		}
		for _, v := range versions {
			if v >= minOS && v <= maxOS {
				return deviceType, formatVersion(v), nil
			}
		}
		return "", "", agenterr.New(agenterr.SimulatorError, "no available runtime compatible with device type").
			WithDetails(map[string]interface{}{"device_type": deviceType})
	}

	deviceTypes, err := c.wrapper.ListDeviceTypes(ctx)
	if err != nil {
		return "", "", err
	}
	candidates := iPhoneTypesNewestFirst(deviceTypes)
	if len(candidates) == 0 {
		return "", "", agenterr.New(agenterr.SimulatorError, "no supported iPhone device type found")
	}

	if osVersion != "" {
		requested := toolchain.ParseOSVersion(osVersion)
		for _, dt := range candidates {
			minOS, maxOS, err := c.deviceTypeBounds(ctx, dt)
			if err != nil {
				continue
			}
			if requested >= minOS && requested <= maxOS {
				return dt, osVersion, nil
			}
		}
		return "", "", agenterr.New(agenterr.SimulatorError, "no iPhone device type compatible with requested OS version").
			WithDetails(map[string]interface{}{"os_version": osVersion})
	}

	for _, dt := range candidates {
		minOS, maxOS, err := c.deviceTypeBounds(ctx, dt)
		if err != nil {
			continue
		}
		for _, v := range versions {
			if v >= minOS && v <= maxOS {
				return dt, formatVersion(v), nil
			}
		}
	}
	return "", "", agenterr.New(agenterr.SimulatorError, "no compatible iPhone device type and OS version pairing found")
}

// deviceTypeBounds reads deviceType's profile.plist and returns its
// §6 min/max supported OS versions, normalizing Apple's sentinel
// encodings (x.255/x.99, 65535.*) the way simtype_profile.py does.
func (c *Controller) deviceTypeBounds(ctx context.Context, deviceType string) (minOS, maxOS float64, err error) {
	profilePath, err := c.deviceTypeProfilePath(ctx, deviceType)
	if err != nil {
		return 0, 0, err
	}
	root, err := plist.Decode(profilePath)
	if err != nil {
		return 0, 0, fmt.Errorf("simulator: reading device type profile: %w", err)
	}

	minVal, err := plist.Navigate(root, "minRuntimeVersion")
	if err != nil {
		return 0, 0, fmt.Errorf("simulator: device type profile missing minRuntimeVersion: %w", err)
	}
	minStr, ok := minVal.String()
	if !ok {
		return 0, 0, fmt.Errorf("simulator: device type profile minRuntimeVersion is not a string")
	}
	minOS = toolchain.ParseOSVersion(minStr)

	maxOS = unboundedMaxOS
	if maxVal, err := plist.Navigate(root, "maxRuntimeVersion"); err == nil {
		if maxStr, ok := maxVal.String(); ok {
			maxOS = toolchain.ParseOSVersion(maxStr)
		}
	}
	return minOS, maxOS, nil
}

// deviceTypeProfilePath locates deviceType's profile.plist under the
// simulator platform directory, branching the profile subdirectory on
// the Xcode-version cutoff the way simtype_profile.py does.
func (c *Controller) deviceTypeProfilePath(ctx context.Context, deviceType string) (string, error) {
	platformPath, err := c.sdkPlatformPath(ctx)
	if err != nil {
		return "", err
	}
	toolchainVersion, err := c.toolchainVersion()
	if err != nil {
		return "", fmt.Errorf("simulator: probing toolchain version: %w", err)
	}
	subdir := "Developer/Library/CoreSimulator/Profiles"
	if toolchainVersion >= toolchain.ModernToolchainCutoff {
		subdir = "Library/Developer/CoreSimulator/Profiles"
	}
	return filepath.Join(platformPath, subdir, "DeviceTypes", deviceType+".simdevicetype",
		"Contents", "Resources", "profile.plist"), nil
}

func (c *Controller) sdkPlatformPath(ctx context.Context) (string, error) {
	out, err := c.wrapper.Run(ctx, "xcrun", "--sdk", "iphonesimulator", "--show-sdk-platform-path")
	if err != nil {
		return "", fmt.Errorf("simulator: resolving sdk platform path: %w", err)
	}
	return strings.TrimSpace(out.Combined), nil
}

func iosRuntimeVersions(runtimes []xcrun.Runtime) []float64 {
	var versions []float64
	for _, r := range runtimes {
		if !strings.HasPrefix(r.Name, "iOS ") {
			continue
		}
		versions = append(versions, toolchain.ParseOSVersion(r.Version))
	}
	return versions
}

// iPhoneTypesNewestFirst returns every iPhone-class entry reported by
// `simctl list devicetypes`, reversed from simctl's oldest-first
// listing order so compatibility filtering tries the newest first.
func iPhoneTypesNewestFirst(deviceTypes []xcrun.DeviceType) []string {
	var names []string
	for _, dt := range deviceTypes {
		if strings.HasPrefix(dt.Name, "iPhone") {
			names = append(names, dt.Name)
		}
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// formatVersion renders a ParseOSVersion value (major + minor/100)
// back as a "major.minor" string, e.g. 17.04 -> "17.4", 13 -> "13.0".
func formatVersion(v float64) string {
	major := int(v)
	minor := int(math.Round((v - float64(major)) * 100))
	return fmt.Sprintf("%d.%d", major, minor)
}
