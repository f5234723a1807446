package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mediabox-remote/internal/bluez"
	"mediabox-remote/internal/command"
	"mediabox-remote/internal/config"
	"mediabox-remote/internal/connmgr"
)

// newManager wires the TCP and BlueZ connectors from cfg. The returned
// cleanup shuts the manager down and releases the bus connection.
func newManager(cfg *config.Config, log *zap.Logger) (*connmgr.Manager, func(), error) {
	adapter := bluez.NewAdapter(cfg.Bluetooth.Adapter, log)

	var opener connmgr.ChannelOpener
	switch cfg.Bluetooth.Opener {
	case config.OpenerProfile:
		opener = bluez.NewProfileOpener(adapter)
	default:
		so, err := bluez.NewSocketOpener()
		if err != nil {
			log.Warn("rfcomm sockets unavailable, using BlueZ profile", zap.Error(err))
			opener = bluez.NewProfileOpener(adapter)
		} else {
			opener = so
		}
	}

	tcp := &connmgr.TCPConnector{Port: cfg.Port, Logger: log}
	bt := &connmgr.BluetoothConnector{
		Adapter:          adapter,
		Opener:           opener,
		Channel:          uint8(cfg.Channel),
		PollInterval:     cfg.PollInterval,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		Logger:           log,
	}
	m := connmgr.New(tcp, bt, connmgr.WithLogger(log))
	cleanup := func() {
		m.Shutdown()
		_ = adapter.Close()
		_ = log.Sync()
	}
	return m, cleanup, nil
}

// waitConnected blocks until m reports Connected, a connect failure, or ctx
// ends.
func waitConnected(ctx context.Context, m *connmgr.Manager) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection: %w", ctx.Err())
		case ev := <-m.Events():
			switch ev.Type {
			case connmgr.EventConnected:
				return nil
			case connmgr.EventConnectFailed:
				return ev.Err
			}
		}
	}
}

// sendFailure returns the first send failure already queued on m's events
// without waiting for more.
func sendFailure(m *connmgr.Manager) error {
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == connmgr.EventSendFailed {
				return fmt.Errorf("send %s: %w", ev.Command, ev.Err)
			}
		default:
			return nil
		}
	}
}

func knownCommands() []string {
	return append(append([]string{}, command.All...), "KEY:<char>")
}
