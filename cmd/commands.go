package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the commands accepted by run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		group := ""
		for _, c := range env.Commands.Commands() {
			if c.Group() != group {
				if group != "" {
					fmt.Fprintln(w)
				}
				group = c.Group()
			}
			fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Summary)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}
