//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"mediabox-remote/internal/connmgr"
)

const connectPollInterval = 100 * time.Millisecond

// SocketOpener opens RFCOMM channels as kernel sockets.
type SocketOpener struct{}

// NewSocketOpener returns the raw socket opener.
func NewSocketOpener() (*SocketOpener, error) {
	return &SocketOpener{}, nil
}

var _ connmgr.ChannelOpener = (*SocketOpener)(nil)

// OpenChannel creates a non-blocking RFCOMM socket for address/channel.
// The socket is not connected until Connect.
func (o *SocketOpener) OpenChannel(address string, channel uint8) (connmgr.Channel, error) {
	bdaddr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("bluez: rfcomm socket: %w", err)
	}
	return &socketChannel{
		fd: fd,
		sa: &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: channel},
	}, nil
}

type socketChannel struct {
	mu     sync.Mutex
	fd     int
	sa     *unix.SockaddrRFCOMM
	file   *os.File
	closed bool
}

// Connect performs the RFCOMM handshake, polling for completion so that ctx
// cancellation is observed.
func (c *socketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("bluez: channel closed")
	}
	fd := c.fd
	c.mu.Unlock()

	err := unix.Connect(fd, c.sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		return fmt.Errorf("bluez: rfcomm connect: %w", err)
	}
	if err != nil {
		if err := waitWritable(ctx, fd); err != nil {
			return err
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("bluez: rfcomm SO_ERROR: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("bluez: rfcomm connect: %w", unix.Errno(soErr))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("bluez: channel closed")
	}
	c.file = os.NewFile(uintptr(fd), "rfcomm")
	return nil
}

func waitWritable(ctx context.Context, fd int) error {
	timeout := int(connectPollInterval / time.Millisecond)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("bluez: rfcomm connect: %w", err)
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("bluez: rfcomm poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

func (c *socketChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	f := c.file
	c.mu.Unlock()
	if f == nil {
		return 0, errors.New("bluez: channel not connected")
	}
	return f.Write(p)
}

func (c *socketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.file != nil {
		return c.file.Close()
	}
	return unix.Close(c.fd)
}
