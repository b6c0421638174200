package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/audit"
	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/output"
	"github.com/Aman-CERP/dirindex/internal/participant"
)

func newAuditCmd() *cobra.Command {
	var (
		participantID string
		limit         int
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of index changes",
		Long: `List recorded index changes (create, delete, expire), newest first.
The audit log is read directly and does not require a running server.`,
		Example: `  dirindex audit --limit 20
  dirindex audit --participant 9915:test0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				output.New(cmd.OutOrStdout()).Warningf("Audit is disabled (audit.enabled: false)")
				return nil
			}

			log, err := audit.Open(cfg.AuditPath())
			if err != nil {
				return errors.StorageFailure("failed to open audit log", err).WithDetail("path", cfg.AuditPath())
			}
			defer func() { _ = log.Close() }()

			var entries []audit.Entry
			if participantID != "" {
				key, err := participant.Parse(participantID)
				if err != nil {
					return errors.New(errors.ErrCodeInvalidParticipant, "invalid participant", err)
				}
				entries, err = log.ForParticipant(cmd.Context(), key.URIEncoded())
				if err != nil {
					return err
				}
			} else {
				entries, err = log.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			out := output.New(cmd.OutOrStdout())
			if len(entries) == 0 {
				out.Warningf("No audit entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Time.Local().Format(time.DateTime),
					string(e.Action),
					e.Participant,
					strconv.Itoa(e.Documents),
					e.OwnerID,
				})
			}
			out.Table([]string{"TIME", "ACTION", "PARTICIPANT", "DOCS", "OWNER"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&participantID, "participant", "", "Only show entries for this participant")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
