package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/output"
)

func newQueueCmd() *cobra.Command {
	var owner, host string

	cmd := &cobra.Command{
		Use:   "queue <participant>",
		Short: "Queue a participant for (re)indexing",
		Long: `Ask the server to fetch the participant's business card and replace its
documents. The participant may be given with or without its scheme; the
default scheme is iso6523-actorid-upis.

Queueing a participant that already has identical work outstanding is a
no-op and reports "unchanged".`,
		Example: `  dirindex queue 9915:test0
  dirindex queue iso6523-actorid-upis::9915:test0 --owner admin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, daemon.MethodQueue, args[0], owner, host)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID recorded on the documents (default: cli:$USER)")
	cmd.Flags().StringVar(&host, "host", "", "Requesting host recorded on the documents")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var owner, host string

	cmd := &cobra.Command{
		Use:   "delete <participant>",
		Short: "Queue a participant for removal",
		Long: `Ask the server to soft-delete the participant's documents. Deleted
documents stay in the index and can be listed with 'search --include-deleted'.`,
		Example: `  dirindex delete 9915:test0`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, daemon.MethodDelete, args[0], owner, host)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID recorded on the work item (default: cli:$USER)")
	cmd.Flags().StringVar(&host, "host", "", "Requesting host recorded on the work item")
	return cmd
}

func runQueue(cmd *cobra.Command, method, participantID, owner, host string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connect(cfg)
	if err != nil {
		return err
	}
	if owner == "" {
		owner = defaultOwner()
	}

	params := daemon.QueueParams{Participant: participantID, OwnerID: owner, RequestingHost: host}
	var res *daemon.QueueResult
	if method == daemon.MethodDelete {
		res, err = client.Delete(cmd.Context(), params)
	} else {
		res, err = client.Queue(cmd.Context(), params)
	}
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if res.Changed {
		out.Successf("Queued %s for %s", res.Kind, res.Participant)
	} else {
		out.Warningf("Unchanged: %s for %s is already pending", res.Kind, res.Participant)
	}
	return nil
}
