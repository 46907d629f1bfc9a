package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	kbserver "github.com/sells-group/research-kb/internal/server"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the validation tools over MCP on stdio",
	Long: "Exposes the validation tools (next assertion, lookup, notes, follow-ups) " +
		"to an MCP client over stdin/stdout. Logs go to stderr.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "mcp")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("serving mcp on stdio")
		if err := server.ServeStdio(kbserver.NewMCPServer(env.Research)); err != nil {
			return eris.Wrap(err, "mcp stdio")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
