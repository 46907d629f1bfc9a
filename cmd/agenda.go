package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-kb/internal/agenda"
)

var agendaOutput string

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Inspect research agendas",
	Long:  "Read-only views of agenda files. Use run agenda:* to create or advance them.",
}

// -- agenda list --

var agendaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agendas with their progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Agenda.List()
		if err != nil {
			return err
		}
		if agendaOutput != "" {
			return writeOutput(cmd.OutOrStdout(), agendaOutput, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No agendas found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROJECT\tTASK\tDONE\tPENDING\tFAILED\tUPDATED")
		for _, a := range list {
			done := a.Stats.Completed + a.Stats.Skipped
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
				a.ID, a.Name, a.ProjectName, a.TaskType,
				done, a.Stats.Total, a.Stats.Pending, a.Stats.Failed,
				formatTime(a.UpdatedAt))
		}
		return w.Flush()
	},
}

// -- agenda status --

var agendaStatusCmd = &cobra.Command{
	Use:   "status <agenda-id>",
	Short: "Show progress, the current item and what comes next",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Agenda.Status(args[0])
		if err != nil {
			return err
		}
		if agendaOutput != "" {
			return writeOutput(cmd.OutOrStdout(), agendaOutput, st)
		}
		return printAgendaStatus(cmd.OutOrStdout(), st)
	},
}

func printAgendaStatus(out io.Writer, st *agenda.StatusReport) error {
	fmt.Fprintf(out, "%s (%s, %s)\n", st.Agenda.Name, st.Agenda.ProjectName, st.Agenda.TaskType)
	fmt.Fprintf(out, "Progress: %d%% (%d/%d, %d remaining)\n",
		st.Progress.Percent, st.Progress.Completed, st.Progress.Total, st.Progress.Remaining)
	if st.Stats.Failed > 0 {
		fmt.Fprintf(out, "Failed: %d\n", st.Stats.Failed)
	}
	if st.CurrentItem != nil {
		fmt.Fprintf(out, "Current: %s [%s]\n", st.CurrentItem.EntityName, st.CurrentItem.Status)
	}

	if len(st.NextItems) > 0 {
		fmt.Fprintln(out, "\nNext:")
		if err := printItems(out, st.NextItems); err != nil {
			return err
		}
	}
	if len(st.RecentlyCompleted) > 0 {
		fmt.Fprintln(out, "\nRecently completed:")
		if err := printItems(out, st.RecentlyCompleted); err != nil {
			return err
		}
	}
	return nil
}

func printItems(out io.Writer, items []agenda.Item) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, it := range items {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", it.EntityName, it.Status, it.EntityURL, it.Notes)
	}
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{agendaListCmd, agendaStatusCmd} {
		c.Flags().StringVarP(&agendaOutput, "output", "o", "", "print json or yaml instead of a table")
		agendaCmd.AddCommand(c)
	}
	rootCmd.AddCommand(agendaCmd)
}
