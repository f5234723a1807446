package connmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is the discovery-wait polling cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultDiscoveryTimeout bounds the discovery wait.
	DefaultDiscoveryTimeout = 30 * time.Second
)

// BluetoothConnector opens an RFCOMM channel to a device once the local
// adapter has stopped scanning.
type BluetoothConnector struct {
	Adapter Adapter
	Opener  ChannelOpener

	// Channel defaults to DefaultRFCOMMChannel.
	Channel uint8

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// DiscoveryTimeout bounds the wait for a running scan to finish.
	// Zero uses DefaultDiscoveryTimeout; a negative value waits until ctx is done.
	DiscoveryTimeout time.Duration

	Logger *zap.Logger
}

// Connect runs the connect sequence: resolve device, wait for discovery to
// finish, fetch SDP records (best-effort), open the channel and connect it.
func (c *BluetoothConnector) Connect(ctx context.Context, address string) (Handle, error) {
	log := loggerOr(c.Logger).With(zap.String("address", address))
	if c.Adapter == nil {
		return nil, fmt.Errorf("connmgr: no bluetooth adapter: %w", ErrDeviceNotFound)
	}
	if c.Opener == nil {
		return nil, fmt.Errorf("connmgr: no rfcomm opener: %w", ErrChannelUnavailable)
	}

	if err := c.Adapter.Device(address); err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			err = fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
		return nil, fmt.Errorf("connmgr: resolve device: %w", err)
	}
	log.Debug("connecting to device")

	if err := c.waitForDiscovery(ctx, log); err != nil {
		return nil, err
	}

	uuids, err := c.Adapter.FetchServices(address)
	if err != nil {
		log.Warn("sdp discovery failed, continuing", zap.Error(err))
	}
	if len(uuids) > 0 {
		log.Debug("found services", zap.Strings("uuids", uuids))
	}

	channel := c.Channel
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}
	ch, err := c.Opener.OpenChannel(address, channel)
	if err != nil {
		return nil, fmt.Errorf("connmgr: open rfcomm channel %d: %w: %w", channel, ErrChannelUnavailable, err)
	}
	if ch == nil {
		return nil, fmt.Errorf("connmgr: open rfcomm channel %d: %w", channel, ErrChannelUnavailable)
	}

	if err := ch.Connect(ctx); err != nil {
		if cerr := ch.Close(); cerr != nil {
			log.Debug("close failed channel", zap.Error(cerr))
		}
		return nil, fmt.Errorf("connmgr: rfcomm connect: %w: %w", ErrConnection, err)
	}
	return ch, nil
}

// waitForDiscovery polls the adapter until it is not scanning. Connecting
// while a scan is running is unreliable. A failed poll counts as idle.
func (c *BluetoothConnector) waitForDiscovery(ctx context.Context, log *zap.Logger) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := c.DiscoveryTimeout
	if timeout == 0 {
		timeout = DefaultDiscoveryTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for polls := 0; ; polls++ {
		scanning, err := c.Adapter.Discovering()
		if err != nil {
			log.Debug("discovering state unavailable", zap.Error(err))
			return nil
		}
		if !scanning {
			if polls > 0 {
				log.Debug("discovery finished", zap.Int("polls", polls))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connmgr: wait for discovery: %w: %w", ErrConnection, ctx.Err())
		case <-ticker.C:
		}
	}
}
