package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-kb/internal/command"
)

var runOutput string

var errNoCommand = errors.New("no command provided; usage: research-kb run <command> [json | key=value ...]")

var runCmd = &cobra.Command{
	Use:   "run <command> [json | key=value ...]",
	Short: "Run a named command and print its result envelope",
	Long: "Runs a registered command such as project:create or diff:latest. " +
		"Arguments are one JSON object or key=value pairs; values that parse as " +
		"JSON keep their type and dotted keys set nested fields. A failed command " +
		"still exits 0; only setup failures exit 1.",
	Example: `  research-kb run project:create name="Dev Tools"
  research-kb run diff:latest '{"entityId":"...","schemaType":"pricing"}'`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errNoCommand
		}
		return nil
	},
	// Setup failures are printed as an envelope by execute.
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		var res command.Result
		parsed, err := command.Parse(args[1:])
		if err != nil {
			res = command.Result{Error: err.Error()}
		} else {
			res = env.Commands.Run(ctx, args[0], parsed)
		}

		return writeOutput(cmd.OutOrStdout(), runOutput, res)
	},
}

// writeRunFailure prints a setup failure of the run command in the same
// envelope a failed command produces.
func writeRunFailure(cmd *cobra.Command, err error) {
	format := runOutput
	if format != outputYAML {
		format = outputJSON
	}
	_ = writeOutput(cmd.OutOrStdout(), format, command.Result{Error: err.Error()})
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", outputJSON, "output format: json or yaml")
	rootCmd.AddCommand(runCmd)
}
