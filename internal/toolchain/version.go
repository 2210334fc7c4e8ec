// Package toolchain implements pure version arithmetic (Design Note
// §9) and a process-wide memoized cache of the detected Xcode
// developer-tool version.
package toolchain

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// PackVersion encodes a major.minor.patch triple as a single
// comparable integer, the scheme used throughout the vendor tooling
// this system shells out to.
func PackVersion(major, minor, patch int) int {
	return major*100 + minor*10 + patch
}

// ModernToolchainCutoff is the packed toolchain version marking Xcode
// 11.0, the §6 boundary between the modern configuration-document /
// profile-layout path and the legacy scaffolding-era one.
const ModernToolchainCutoff = 1100

// swift5FallbackOSCutoff is iOS 12.2 packed: the simulator runtime
// version below which Xcode 11+ needs the swift-5.0 fallback library
// path override (https://github.com/bazelbuild/rules_apple/issues/684).
const swift5FallbackOSCutoff = 1220

// PackOSVersionString parses a plain "major.minor[.patch]" OS version
// string (e.g. a simulator's actual runtime version, not a
// compatibility-bound sentinel) into the same packed-integer scheme as
// PackVersion, for direct comparison against ModernToolchainCutoff-style
// constants. Malformed input returns an error.
func PackOSVersionString(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 3)
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, fmt.Errorf("toolchain: unrecognized OS version component %q in %q: %w", parts[i], s, err)
		}
		nums[i] = n
	}
	return PackVersion(nums[0], nums[1], nums[2]), nil
}

// NeedsSwift5Fallback reports whether the §6 DYLD_FALLBACK_LIBRARY_PATH
// override is required for this toolchain/target-OS pairing: toolchain
// at or above Xcode 11 and a target OS older than 12.2.
func NeedsSwift5Fallback(toolchainPacked int, targetOSVersion string) bool {
	if toolchainPacked < ModernToolchainCutoff || targetOSVersion == "" {
		return false
	}
	packed, err := PackOSVersionString(targetOSVersion)
	if err != nil {
		return false
	}
	return packed < swift5FallbackOSCutoff
}

// DeveloperDir returns the active Xcode developer directory via
// `xcode-select -p`, the root used to locate toolchain-bundled
// resources such as the swift-5.0 fallback libraries below.
func DeveloperDir() (string, error) {
	out, err := exec.Command("xcode-select", "-p").Output()
	if err != nil {
		return "", fmt.Errorf("toolchain: probing developer dir: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Swift5FallbackLibDir locates the Xcode-bundled Swift 5 simulator
// runtime libraries under developerDir, returning ok=false if no such
// directory exists there.
func Swift5FallbackLibDir(developerDir string) (dir string, ok bool) {
	dir = filepath.Join(developerDir, "Toolchains/XcodeDefault.xctoolchain/usr/lib/swift-5.0", "iphonesimulator")
	if _, err := os.Stat(dir); err != nil {
		return "", false
	}
	return dir, true
}

// ParseOSVersion parses a "major.minor[.patch]" string into its
// integer major/minor components, then applies NormalizeSentinel so
// the result is directly comparable against device-type compatibility
// bounds. An unparsable major parses as 0; an unparsable minor leaves
// just the major.
func ParseOSVersion(s string) float64 {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 3)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return float64(major)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return float64(major)
	}
	return NormalizeSentinel(float64(major), float64(minor))
}

// NormalizeSentinel collapses Apple's "no upper bound" sentinels found
// in device-type profile metadata: x.255 and x.99 both mean "no
// practical ceiling for this major" and collapse to x.99; 65535.*
// means "unbounded" and is rendered as a very large float so every
// real comparison against it succeeds.
func NormalizeSentinel(major, minor float64) float64 {
	if major >= 65535 {
		return 1e9
	}
	if minor == 255 || minor == 99 {
		return major + 0.99
	}
	return major + minor/100
}

// Cache memoizes the toolchain version for the lifetime of the
// process. The value is immutable once resolved and is never
// invalidated; concurrent first access is guarded by sync.Once.
type Cache struct {
	once    sync.Once
	version int
	err     error
	probe   func() (int, error)
}

// processCache is the single Cache shared by every NewCache caller.
var processCache = &Cache{probe: probeXcodebuild}

// NewCache returns the process-wide Cache, which resolves the version
// by running `xcodebuild -version` on first use. Tests build their own
// Cache with a substitute probe.
func NewCache() *Cache {
	return processCache
}

// Version returns the memoized, packed toolchain version.
func (c *Cache) Version() (int, error) {
	c.once.Do(func() {
		c.version, c.err = c.probe()
	})
	return c.version, c.err
}

func probeXcodebuild() (int, error) {
	out, err := exec.Command("xcodebuild", "-version").Output()
	if err != nil {
		return 0, fmt.Errorf("toolchain: probing xcodebuild version: %w", err)
	}
	return parseXcodebuildVersion(string(out))
}

// parseXcodebuildVersion extracts "Xcode 15.2" style output into a
// packed version. Unexported so it can be unit tested without
// shelling out.
func parseXcodebuildVersion(out string) (int, error) {
	lines := strings.Split(out, "\n")
	if len(lines) == 0 {
		return 0, fmt.Errorf("toolchain: empty xcodebuild -version output")
	}
	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return 0, fmt.Errorf("toolchain: unrecognized xcodebuild -version output: %q", lines[0])
	}
	parts := strings.SplitN(fields[1], ".", 3)
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, fmt.Errorf("toolchain: unrecognized version component %q: %w", parts[i], err)
		}
		nums[i] = n
	}
	return PackVersion(nums[0], nums[1], nums[2]), nil
}
