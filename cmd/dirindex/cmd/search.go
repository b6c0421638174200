package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/daemon"
	"github.com/Aman-CERP/dirindex/internal/output"
	"github.com/Aman-CERP/dirindex/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		field          string
		limit          int
		includeDeleted bool
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:   "search <text> | --field <name> <value>",
		Short: "Search indexed documents",
		Long: `Search the index of a running server.

Without --field, the argument is matched against name, geo_info and
free_text. With --field, documents whose field matches the value are
listed. Keyword fields (participant_id, owner_id, country_code,
identifier_scheme, identifier_value, website, requesting_host) match
exactly; text fields match on words.`,
		Example: `  dirindex search acme
  dirindex search --field country_code AT
  dirindex search --field participant_id iso6523-actorid-upis::9915:test0 --include-deleted`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := daemon.SearchParams{IncludeDeleted: includeDeleted}
			value := strings.Join(args, " ")
			if field != "" {
				params.Field, params.Value = field, value
			} else {
				params.Text, params.Limit = value, limit
			}
			return runSearch(cmd, params, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Field to match instead of full-text search")
	cmd.Flags().IntVar(&limit, "limit", daemon.DefaultSearchLimit, "Maximum full-text results")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted documents (field search only)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runSearch(cmd *cobra.Command, params daemon.SearchParams, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := connect(cfg)
	if err != nil {
		return err
	}

	res, err := client.Search(cmd.Context(), params)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	out := output.New(cmd.OutOrStdout())
	if len(res.Documents) == 0 {
		out.Warningf("No documents found")
		return nil
	}
	out.Table([]string{"ID", "NAME", "COUNTRY", "OWNER", "STATE"}, documentRows(res.Documents))
	out.Newline()
	out.Dim(fmt.Sprintf("%d document(s)", len(res.Documents)))
	return nil
}

func documentRows(docs []store.Document) [][]string {
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		state := "live"
		if doc.Deleted {
			state = "deleted"
		}
		rows = append(rows, []string{doc.ID, doc.Name, doc.CountryCode, doc.OwnerID, state})
	}
	return rows
}
