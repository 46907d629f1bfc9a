package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "commands", "migrate", "serve", "mcp", "diff", "agenda"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "research-kb", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestDiffCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range diffCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"latest", "compare", "history", "changes"} {
		assert.True(t, names[name], "expected diff subcommand %q", name)
	}
}

func TestAgendaCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range agendaCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["status"])
}

func TestRunCommand_Flags(t *testing.T) {
	f := runCmd.Flags().Lookup("output")
	require.NotNil(t, f)
	assert.Equal(t, "o", f.Shorthand)
	assert.Equal(t, outputJSON, f.DefValue)
	assert.Error(t, runCmd.Args(runCmd, nil))
	assert.NoError(t, runCmd.Args(runCmd, []string{"project:list"}))
}

func TestServeCommand_Flags(t *testing.T) {
	f := serveCmd.Flags().Lookup("port")
	require.NotNil(t, f)
	assert.Equal(t, "0", f.DefValue)
}

func TestDiffCommand_Flags(t *testing.T) {
	for _, c := range []string{"entity", "schema"} {
		assert.NotNil(t, diffLatestCmd.Flags().Lookup(c))
		assert.NotNil(t, diffHistoryCmd.Flags().Lookup(c))
	}
	assert.NotNil(t, diffChangesCmd.Flags().Lookup("project"))
	assert.NotNil(t, diffChangesCmd.Flags().Lookup("days"))
	assert.Error(t, diffCompareCmd.Args(diffCompareCmd, []string{"one"}))
}
