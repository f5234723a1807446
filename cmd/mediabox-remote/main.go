// CLI remote for a mediabox.
//
// The device is a host name/IP (TCP port 2048) or the mediabox Bluetooth
// address (RFCOMM channel 1). It comes from --device or the config file
// ($XDG_CONFIG_HOME/mediabox-remote/config.yaml).
//
// Examples
//
//	mediabox-remote send PLAY
//	mediabox-remote --device 00:02:72:13:75:93 send UP UP ENTER
//	mediabox-remote interactive          (one command per line, "key x" types X)
//	mediabox-remote commands
//
// Bluetooth needs BlueZ (bluetoothd) on the system bus. Raw RFCOMM sockets
// may need CAP_NET_RAW; set bluetooth.opener: profile to go through BlueZ.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediabox-remote/internal/config"
)

type globalFlags struct {
	configPath string
	device     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:          "mediabox-remote",
		Short:        "Send remote-control commands to a mediabox",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().StringVar(&g.device, "device", "", "host, IP or Bluetooth address (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(newSendCmd(&g), newInteractiveCmd(&g), newCommandsCmd())
	return root
}

// loadConfig applies flag overrides to the config file.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.device != "" {
		cfg.Device = g.device
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the command vocabulary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, c := range knownCommands() {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
		},
	}
}
