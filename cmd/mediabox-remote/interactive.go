package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mediabox-remote/internal/command"
	"mediabox-remote/internal/connmgr"
	"mediabox-remote/internal/observability"
)

func newInteractiveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Read commands from stdin, one per line",
		Long: `Read commands from stdin, one per line, and send them as they are typed.

Lines are upper-cased; "key x" sends KEY:X, "clear" sends CLEAR and
"reconnect" opens the connection again.
Commands typed before the connection is up are dropped. EOF or Ctrl-C exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd.Context(), g, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}
}

func runInteractive(ctx context.Context, g *globalFlags, in io.Reader, out io.Writer) error {
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
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.Open(connmgr.NewConfig(cfg.Device))
	go reportEvents(ctx, m, out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch t := command.Parse(line); t {
			case "":
			case "RECONNECT":
				m.Open(connmgr.NewConfig(cfg.Device))
			default:
				m.Send(t)
			}
		}
	}
}

func reportEvents(ctx context.Context, m *connmgr.Manager, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.Events():
			if ev.Err != nil {
				fmt.Fprintf(out, "%s: %v\n", ev.Type, ev.Err)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", ev.Type, ev.Identifier)
		}
	}
}
