package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justdata-platform/justdata/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "version"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "justdata", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, flag, "serve command should have --addr flag")
	assert.Equal(t, "", flag.DefValue)

	dsnFlag := serveCmd.Flags().Lookup("warehouse-dsn")
	require.NotNil(t, dsnFlag, "serve command should have --warehouse-dsn flag")
}

func TestInitNarrator_NoKeysMeansNoNarrator(t *testing.T) {
	prev := cfg
	defer func() { cfg = prev }()

	cfg = &config.Config{}
	assert.Nil(t, initNarrator(t.Context()))
}
