package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/caseworks/docpipe/internal/model"
	"github.com/caseworks/docpipe/internal/risk"
	"github.com/caseworks/docpipe/internal/store"
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Review and resolve extracted findings",
}

// -- findings list --

var findingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List findings for a run or case",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run")
		caseID, _ := cmd.Flags().GetString("case")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.FindingFilter{
			RunID:  runID,
			CaseID: caseID,
			Status: model.FindingStatus(status),
			Limit:  limit,
		}

		findings, err := st.ListFindings(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "findings list")
		}

		if len(findings) == 0 {
			fmt.Fprintln(os.Stderr, "No findings found.")
			return nil
		}

		formatFindingsList(os.Stdout, findings)
		return nil
	},
}

// -- findings resolve --

var findingsResolveCmd = &cobra.Command{
	Use:   "resolve <finding-id> <accepted|rejected>",
	Short: "Resolve a pending or conflict finding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		f, err := st.ResolveFinding(ctx, args[0], model.FindingStatus(args[1]))
		if err != nil {
			return eris.Wrap(err, "findings resolve")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	},
}

// -- findings risk --

var findingsRiskCmd = &cobra.Command{
	Use:   "risk <case-id>",
	Short: "Score the accumulated risk of a case's findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		findings, err := st.ListFindings(ctx, store.FindingFilter{CaseID: args[0]})
		if err != nil {
			return eris.Wrap(err, "findings risk")
		}

		score := risk.Score(findings)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(score)
	},
}

func init() {
	findingsListCmd.Flags().String("run", "", "filter by run ID")
	findingsListCmd.Flags().String("case", "", "filter by case ID")
	findingsListCmd.Flags().String("status", "", "filter by status (pending, accepted, auto_applied, rejected, conflict)")
	findingsListCmd.Flags().Int("limit", 100, "max number of findings to display")

	findingsCmd.AddCommand(findingsListCmd)
	findingsCmd.AddCommand(findingsResolveCmd)
	findingsCmd.AddCommand(findingsRiskCmd)
	rootCmd.AddCommand(findingsCmd)
}

// formatFindingsList writes a tabular list of findings to w.
func formatFindingsList(out io.Writer, findings []model.Finding) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFIELD\tVALUE\tSTATUS\tIMPACT\tCONF\tBAND")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t------\t------\t----\t----")

	for _, f := range findings {
		value := f.Value
		if len(value) > 40 {
			value = value[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			truncateID(f.ID),
			f.Key(),
			value,
			f.Status,
			f.Impact,
			f.Confidence,
			model.ConfidenceBand(f.Confidence),
		)
	}
	_ = w.Flush()
}
