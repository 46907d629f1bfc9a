package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-kb/internal/diff"
	"github.com/sells-group/research-kb/internal/history"
	"github.com/sells-group/research-kb/internal/model"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Inspect how extractions change over time",
}

var (
	diffEntity  string
	diffSchema  string
	diffProject string
	diffLimit   int
	diffDays    int
	diffOutput  string
)

// -- diff latest --

var diffLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Diff the two most recent extractions of an entity and schema type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := env.History.LatestDiff(cmd.Context(), diffEntity, model.SchemaType(diffSchema))
		if err != nil {
			return err
		}
		if diffOutput != "" {
			return writeOutput(cmd.OutOrStdout(), diffOutput, r)
		}
		return printDiff(cmd.OutOrStdout(), r)
	},
}

// -- diff compare --

var diffCompareCmd = &cobra.Command{
	Use:   "compare <old-extraction-id> <new-extraction-id>",
	Short: "Diff two extractions of the same entity and schema type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := env.History.CompareExtractions(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if diffOutput != "" {
			return writeOutput(cmd.OutOrStdout(), diffOutput, r)
		}
		return printDiff(cmd.OutOrStdout(), r)
	},
}

// -- diff history --

var diffHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List extractions of an entity and schema type, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		h, err := env.History.ExtractionHistory(cmd.Context(), diffEntity, model.SchemaType(diffSchema), diffLimit)
		if err != nil {
			return err
		}
		if diffOutput != "" {
			return writeOutput(cmd.OutOrStdout(), diffOutput, h)
		}
		return printHistory(cmd.OutOrStdout(), h)
	},
}

// -- diff changes --

var diffChangesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Find entities whose extractions changed recently",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		rc, err := env.History.RecentChanges(cmd.Context(), history.RecentChangesInput{
			ProjectID:  diffProject,
			SchemaType: model.SchemaType(diffSchema),
			DaysBack:   diffDays,
		})
		if err != nil {
			return err
		}
		if diffOutput != "" {
			return writeOutput(cmd.OutOrStdout(), diffOutput, rc)
		}
		return printRecentChanges(cmd.OutOrStdout(), rc)
	},
}

func printDiff(out io.Writer, r *history.Result) error {
	name := r.EntityName
	if name == "" {
		name = r.EntityID
	}
	fmt.Fprintf(out, "%s / %s\n", name, r.SchemaType)
	if !r.HasPriorVersion {
		fmt.Fprintln(out, r.Message)
		return nil
	}
	if r.OldExtractedAt != nil && r.NewExtractedAt != nil {
		fmt.Fprintf(out, "%s -> %s (%d days)\n", formatTime(*r.OldExtractedAt), formatTime(*r.NewExtractedAt), r.DaysBetween)
	}
	if !r.HasChanges() {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	fmt.Fprintf(out, "%d added, %d removed, %d modified\n\n",
		r.Summary.AddedCount, r.Summary.RemovedCount, r.Summary.ModifiedCount)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tPATH\tOLD\tNEW")
	for _, c := range r.Changes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Type, c.Path, cell(c.OldValue), cell(c.NewValue))
	}
	return w.Flush()
}

func printHistory(out io.Writer, h *history.History) error {
	fmt.Fprintf(out, "%s / %s: %d extraction(s)", h.EntityName, h.SchemaType, h.TotalExtractions)
	if h.AverageDaysBetween != nil {
		fmt.Fprintf(out, ", every %.1f days on average", *h.AverageDaysBetween)
	}
	fmt.Fprintln(out)
	if len(h.Extractions) == 0 {
		return nil
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXTRACTED\tSTATUS\tCONFIDENCE\tSOURCE")
	for _, it := range h.Extractions {
		conf := "-"
		if it.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *it.Confidence)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.ID, formatTime(it.ExtractedAt), it.Status, conf, it.SourceURL)
	}
	return w.Flush()
}

func printRecentChanges(out io.Writer, rc *history.RecentChanges) error {
	fmt.Fprintf(out, "Last %d days: %d of %d pair(s) changed, %d change(s)\n",
		rc.DaysBack, rc.Summary.EntitiesWithChanges, rc.Summary.EntitiesChecked, rc.Summary.TotalChanges)
	if len(rc.EntitiesWithChanges) == 0 {
		return nil
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tSCHEMA\tCHANGES\t+/-/~\tLATEST")
	for _, ec := range rc.EntitiesWithChanges {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d/%d\t%s\n",
			ec.EntityName, ec.SchemaType, ec.ChangeCount,
			ec.ChangeTypes.AddedCount, ec.ChangeTypes.RemovedCount, ec.ChangeTypes.ModifiedCount,
			formatTime(ec.LatestChange))
	}
	return w.Flush()
}

func cell(raw []byte) string {
	if len(raw) == 0 {
		return "-"
	}
	return diff.FormatValue(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func init() {
	for _, c := range []*cobra.Command{diffLatestCmd, diffHistoryCmd} {
		c.Flags().StringVar(&diffEntity, "entity", "", "entity ID (required)")
		c.Flags().StringVar(&diffSchema, "schema", "", "schema type: pricing, features, company, compliance or integrations (required)")
		_ = c.MarkFlagRequired("entity")
		_ = c.MarkFlagRequired("schema")
	}
	diffHistoryCmd.Flags().IntVar(&diffLimit, "limit", history.DefaultHistoryLimit, "max extractions to list")

	diffChangesCmd.Flags().StringVar(&diffProject, "project", "", "project ID (required)")
	diffChangesCmd.Flags().StringVar(&diffSchema, "schema", "", "only this schema type")
	diffChangesCmd.Flags().IntVar(&diffDays, "days", history.DefaultDaysBack, "window in days")
	_ = diffChangesCmd.MarkFlagRequired("project")

	for _, c := range []*cobra.Command{diffLatestCmd, diffCompareCmd, diffHistoryCmd, diffChangesCmd} {
		c.Flags().StringVarP(&diffOutput, "output", "o", "", "print json or yaml instead of a table")
		diffCmd.AddCommand(c)
	}
	rootCmd.AddCommand(diffCmd)
}
