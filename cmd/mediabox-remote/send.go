package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediabox-remote/internal/command"
	"mediabox-remote/internal/connmgr"
	"mediabox-remote/internal/observability"
)

func newSendCmd(g *globalFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "send COMMAND...",
		Short: "Connect, send commands and disconnect",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens := make([]string, 0, len(args))
			for _, a := range args {
				t := strings.ToUpper(a)
				if strict && !command.IsKnown(t) {
					return fmt.Errorf("unknown command %q", a)
				}
				tokens = append(tokens, t)
			}
			return runSend(cmd.Context(), g, tokens)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", true, "reject commands outside the known vocabulary")
	return cmd
}

func runSend(ctx context.Context, g *globalFlags, tokens []string) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log, err := observability.SetupLogger(cfg, nil)
	if err != nil {
		return err
	}
	m, cleanup, err := newManager(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	m.Open(connmgr.NewConfig(cfg.Device))
	if err := waitConnected(ctx, m); err != nil {
		return err
	}
	for _, t := range tokens {
		m.Send(t)
	}
	return sendFailure(m)
}
