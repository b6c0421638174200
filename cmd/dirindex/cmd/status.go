package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server and index status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := connect(cfg)
			if err != nil {
				return err
			}

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := client.Count(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"server": st, "index": counts})
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("dirindex is running (pid %d, up %s)", st.PID, st.Uptime)
			out.KeyValue("index", st.IndexPath)
			out.KeyValue("documents", counts.Documents)
			out.KeyValue("deleted", counts.DeletedDocuments)
			out.KeyValue("participants", counts.Participants)
			out.KeyValue("pending keys", st.PendingKeys)
			out.KeyValue("queue length", st.QueueLength)
			out.KeyValue("retry records", st.RetryRecords)
			out.KeyValue("processed", st.Processed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
