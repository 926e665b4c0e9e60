package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/toolgate/internal/common"
)

func main() {
	common.LoadVersionFromFile()
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolgate",
		Short: "JSON-RPC tool gateway for a REST service",
		Long: "toolgate exposes a catalog of REST operations as MCP tools over HTTP or stdio,\n" +
			"with argument validation, bounded retries and normalized responses.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().StringArrayP("config", "c", nil, "Configuration file path (repeatable, later files win)")
	root.PersistentFlags().String("upstream-url", "", "Upstream base URL (overrides config)")
	root.PersistentFlags().String("catalog", "", "Tool catalog file or URL (overrides config)")
	root.PersistentFlags().String("log-level", "", "Log level (overrides config)")

	root.Version = common.GetVersion()
	root.SetVersionTemplate(fmt.Sprintf("toolgate version %s\n", common.Info()))

	root.AddCommand(newServeCmd())
	root.AddCommand(newStdioCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "toolgate version %s\n", common.Info())
			return nil
		},
	}
}
