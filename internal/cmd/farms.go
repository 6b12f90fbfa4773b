package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var farmsCmd = &cobra.Command{
	Use:   "farms",
	Short: "List registered farm adapters",
	Long: `List the farm adapters registered with the farmsight service,
including the capabilities each one advertises.

Capabilities determine which submission options a farm accepts. A farm
that advertises chunking disabled rejects explicit chunk sizes; a farm
without cancellation support rejects job cancellation.

Examples:
  farmsight farms
  farmsight farms --json`,
	RunE: runFarms,
}

func init() {
	rootCmd.AddCommand(farmsCmd)
	farmsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runFarms(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	farms, err := api.ListFarms(ctx)
	if err != nil {
		return err
	}
	if len(farms) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No farms registered")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(farms)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "TYPE\tLABEL\tPRIORITY\tCHUNKING\tCANCEL")
	for _, f := range farms {
		caps := f.Capabilities

		priority := fmt.Sprintf("%d-%d (default %d)",
			caps.Priority.Min, caps.Priority.Max, caps.Priority.Default)

		chunking := "no"
		if caps.Chunking.Enabled {
			chunking = fmt.Sprintf("%d-%d frames", caps.Chunking.Min, caps.Chunking.Max)
		}

		cancel := "no"
		if caps.Cancellation.Supported {
			cancel = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.Type, f.Label, priority, chunking, cancel)
	}

	return nil
}
