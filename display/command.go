// Package display renders command results for the terminal or as JSON.
package display

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// EnvJSON forces JSON output when set to a non-empty value (for scripts and
// dashboards that shell out to the CLI)
const EnvJSON = "OUTBOUND_JSON"

// ShouldOutputJSON determines if a command should output JSON based on flags
// and the OUTBOUND_JSON environment variable
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return os.Getenv(EnvJSON) != ""
	}

	// Check if --json flag was explicitly set
	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	// Check global --json flag
	if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
		return true
	}

	return os.Getenv(EnvJSON) != ""
}

// OutputJSON marshals and prints JSON using MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// MarshalJSON pretty-prints for terminals and under test, compact otherwise
func MarshalJSON(v interface{}) ([]byte, error) {
	if flag.Lookup("test.v") != nil || isTerminal(os.Stdout) {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
