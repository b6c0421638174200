package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/output"
	"github.com/Aman-CERP/dirindex/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the data directory can be served",
		Long: `Run system checks against the configured data directory: write access,
free disk space, file descriptor limits, the pending-work file left by the
previous run, the card provider, and whether a server already holds the lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := preflight.New(cfg).RunAll(cmd.Context())

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{
					"status": preflight.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				printChecks(output.New(cmd.OutOrStdout()), results, verbose)
			}

			if preflight.HasCriticalFailures(results) {
				return errors.InternalError("system check failed", nil).
					WithSuggestion("Run 'dirindex doctor -v' for details")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	return cmd
}

func printChecks(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	for _, r := range results {
		switch r.Status {
		case preflight.StatusPass:
			out.Successf("%s: %s", r.Name, r.Message)
		case preflight.StatusWarn:
			out.Warningf("%s: %s", r.Name, r.Message)
		default:
			out.Errorf("%s: %s", r.Name, r.Message)
		}
		if verbose && r.Details != "" {
			out.Dim("    " + r.Details)
		}
	}
	out.Newline()
	out.KeyValue("status", preflight.SummaryStatus(results))
}
