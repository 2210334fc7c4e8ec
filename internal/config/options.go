// Package config decodes the launch-options and signing-options JSON
// documents of §6 and implements the SIMCTL_CHILD_ env-var prefixing
// convention used by the session's preparation strategies.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

const simctlChildPrefix = "SIMCTL_CHILD_"

// LaunchOptions is the launch-options document (§6).
type LaunchOptions struct {
	EnvVars               map[string]string `json:"env_vars,omitempty"`
	Args                  []string          `json:"args,omitempty"`
	AppUnderTestEnvVars   map[string]string `json:"app_under_test_env_vars,omitempty"`
	AppUnderTestArgs      []string          `json:"app_under_test_args,omitempty"`
	KeepXcresultData      bool              `json:"keep_xcresult_data,omitempty"`
	TestsToRun            []string          `json:"tests_to_run,omitempty"`
	SkipTests             []string          `json:"skip_tests,omitempty"`
	UITestAutoScreenshots bool              `json:"uitest_auto_screenshots,omitempty"`
	StartupTimeoutSeconds int               `json:"startup_timeout_seconds,omitempty"`
	DestinationTimeoutSec int               `json:"destination_timeout_sec,omitempty"`
}

// SigningOptions is the signing-options document (§6).
type SigningOptions struct {
	XctrunnerAppProvisioningProfile string `json:"xctrunner_app_provisioning_profile,omitempty"`
	XctrunnerAppEnableUIFileSharing bool   `json:"xctrunner_app_enable_ui_file_sharing,omitempty"`
	KeychainPath                    string `json:"keychain_path,omitempty"`
}

// LoadLaunchOptions decodes a launch-options document from path. A
// blank path means no document was supplied, returning the zero value.
func LoadLaunchOptions(path string) (LaunchOptions, error) {
	var opts LaunchOptions
	if path == "" {
		return opts, nil
	}
	if err := decodeJSONFile(path, &opts); err != nil {
		return LaunchOptions{}, fmt.Errorf("config: launch options: %w", err)
	}
	return opts, nil
}

// LoadSigningOptions decodes a signing-options document from path.
func LoadSigningOptions(path string) (SigningOptions, error) {
	var opts SigningOptions
	if path == "" {
		return opts, nil
	}
	if err := decodeJSONFile(path, &opts); err != nil {
		return SigningOptions{}, fmt.Errorf("config: signing options: %w", err)
	}
	return opts, nil
}

func decodeJSONFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

// SimctlChildKey prefixes a single env-var name with SIMCTL_CHILD_,
// the convention OverlayForSimulator applies across a whole map.
func SimctlChildKey(key string) string {
	return simctlChildPrefix + key
}

// OverlayForSimulator implements §6's environment-variable convention:
// every key in vars is forwarded to a simulator-bound test child
// prefixed with SIMCTL_CHILD_, returned as "KEY=VALUE" pairs sorted by
// key for deterministic ordering.
func OverlayForSimulator(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	overlay := make([]string, 0, len(keys))
	for _, k := range keys {
		overlay = append(overlay, simctlChildPrefix+k+"="+vars[k])
	}
	return overlay
}
