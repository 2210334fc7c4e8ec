package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neoforge-dev/ios-test-orchestrator/internal/agenterr"
)

var (
	// Global flags
	deviceID string
	verbose  bool

	log = logrus.New()
)

// Response is the standard JSON response wrapper for the manual
// operator-facing commands (devices, simulator *). test/simulator_test
// exit via the process exit code alone, per §6.
type Response struct {
	Success   bool        `json:"success"`
	Action    string      `json:"action,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "iosrun",
	Short: "Host-side iOS unit/UI test orchestrator",
	Long: `iosrun launches iOS unit and UI test bundles against a physical
device or simulator, monitors the child test process, recovers from
transient simulator failures, and reports a structured exit code for CI.

Examples:
  iosrun test --id <udid> --app_under_test_path App.app --test_bundle_path Tests.xctest
  iosrun simulator_test --device_type "iPhone 15" --os_version 17.4 --test_bundle_path Tests.xctest
  iosrun devices
  iosrun simulator list`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&deviceID, "device", "d", "", "Device ID to target")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose diagnostic output on stderr")
	cobra.OnInitialize(func() {
		log.SetOutput(os.Stderr)
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	})
}

func rootLog() *logrus.Entry {
	return logrus.NewEntry(log)
}

// outputJSON prints the response as JSON.
func outputJSON(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputSuccess outputs a successful response.
func outputSuccess(action string, result interface{}) {
	outputJSON(Response{
		Success: true,
		Action:  action,
		Result:  result,
	})
}

// outputAgentError outputs a standardized error response built from an
// agenterr.AgentError and exits non-zero.
func outputAgentError(action string, err *agenterr.AgentError) {
	outputJSON(Response{
		Success: false,
		Action:  action,
		Error: &ErrorInfo{
			Code:    string(err.Code),
			Message: err.Message,
			Details: err.Details,
		},
	})
	os.Exit(1)
}
