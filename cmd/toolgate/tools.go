package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/toolgate/internal/catalog"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCheckCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog tools with their upstream operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMETHOD\tPATH\tDESCRIPTION")
			for _, t := range tools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, strings.ToUpper(t.Method), t.Path, firstLine(t.Description))
			}
			return w.Flush()
		},
	}
}

func newToolsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the tool catalog and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			if err := catalog.Check(tools); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitError(1, "catalog is invalid")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog OK: %d tool(s)\n", len(tools))
			return nil
		},
	}
}

func loadCatalog(cmd *cobra.Command) ([]catalog.CatalogTool, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, exitError(2, "failed to load configuration: %v", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tools, err := catalog.Load(ctx, http.DefaultClient, cfg.Catalog.Path)
	if err != nil {
		return nil, exitError(1, "%v", err)
	}
	return tools, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
