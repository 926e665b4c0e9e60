package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobmcallan/toolgate/internal/app"
	"github.com/bobmcallan/toolgate/internal/upstream"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [arguments-json]",
		Short: "Run one tool call and print the normalized result",
		Example: `  toolgate call list_indents '{"status":["OPEN"],"page":0}'
  toolgate call get_indent '{"indentId":"IND-42"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runCall,
	}
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return exitError(2, "failed to load configuration: %v", err)
	}

	arguments := map[string]any{}
	if len(args) == 2 {
		dec := json.NewDecoder(bytes.NewReader([]byte(args[1])))
		dec.UseNumber()
		if err := dec.Decode(&arguments); err != nil {
			return exitError(2, "arguments must be a JSON object: %v", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	application, err := app.New(ctx, cfg, setupLogger(cfg))
	if err != nil {
		return exitError(1, "failed to initialize application: %v", err)
	}
	defer application.Close(context.Background())

	ctx = upstream.WithCorrelationID(ctx, uuid.New().String())
	res := application.Dispatcher.Execute(ctx, args[0], arguments)

	if !res.OK {
		out, _ := json.MarshalIndent(res.Error, "", "  ")
		fmt.Fprintln(cmd.ErrOrStderr(), string(out))
		return exitError(1, "%s", res.Error.Error())
	}

	out, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		return exitError(1, "failed to encode result: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
