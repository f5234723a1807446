package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"mediabox-remote/internal/connmgr"
)

var pathCounter uint64

// ProfileOpener opens RFCOMM channels through BlueZ: it registers a client
// SPP profile pinned to the channel number and lets bluetoothd hand over the
// connected socket. Use it where raw RFCOMM sockets are not permitted.
type ProfileOpener struct {
	adapter *Adapter
}

// NewProfileOpener returns an opener sharing adapter's bus connection.
func NewProfileOpener(adapter *Adapter) *ProfileOpener {
	return &ProfileOpener{adapter: adapter}
}

var _ connmgr.ChannelOpener = (*ProfileOpener)(nil)

// OpenChannel exports a Profile1 object for the channel. Registration with
// BlueZ happens in Connect.
func (o *ProfileOpener) OpenChannel(address string, channel uint8) (connmgr.Channel, error) {
	if _, err := parseAddress(address); err != nil {
		return nil, err
	}
	bus, adapterPath, err := o.adapter.conn()
	if err != nil {
		return nil, err
	}
	device := deviceObjectPath(adapterPath, address)
	log := o.adapter.log.With(zap.String("address", address), zap.Uint8("channel", channel))
	prof := &profile{ch: make(chan acceptResult, 1), device: device, log: log}
	// Unique object path per channel to avoid collisions.
	id := atomic.AddUint64(&pathCounter, 1)
	path := dbus.ObjectPath("/org/mediabox/remote/client/p" + strconv.FormatUint(id, 10))
	if err := bus.Export(prof, path, profileInterfaceName); err != nil {
		return nil, fmt.Errorf("bluez: export client profile: %w", err)
	}
	return &profileChannel{
		bus:     bus,
		prof:    prof,
		path:    path,
		device:  device,
		channel: channel,
		log:     log,
	}, nil
}

// profile implements org.bluez.Profile1 and forwards NewConnection events
// for device.
type profile struct {
	device dbus.ObjectPath
	log    *zap.Logger

	mu       sync.Mutex
	ch       chan acceptResult
	accepted bool // subsequent connections are rejected
}

type acceptResult struct {
	fd  int
	dev dbus.ObjectPath
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers the RFCOMM socket FD to the waiting Connect. Only the
// first connection from the requested device is accepted.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if peer, want := macFromPath(dev), macFromPath(p.device); peer != want {
		p.log.Warn("rejecting connection from unexpected peer", zap.String("peer", peer), zap.String("want", want))
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"unexpected device"}}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accepted {
		select {
		case p.ch <- acceptResult{fd: int(fd), dev: dev}:
			p.accepted = true
			return nil
		default:
		}
	}
	// Close FD and reject to avoid leaks.
	_ = os.NewFile(uintptr(fd), "rfcomm").Close()
	return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"already connected"}}
}

type profileChannel struct {
	bus     *dbus.Conn
	prof    *profile
	path    dbus.ObjectPath
	device  dbus.ObjectPath
	channel uint8
	log     *zap.Logger

	mu         sync.Mutex
	registered bool
	file       *os.File
	closed     bool
}

// Connect registers the client profile and asks BlueZ to connect it, then
// waits for NewConnection or ctx.
func (c *profileChannel) Connect(ctx context.Context) error {
	pm := c.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
		// BlueZ expects Channel as a uint16 (not byte).
		"Channel": dbus.MakeVariant(uint16(c.channel)),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, c.path, SPPUUID, opts); call.Err != nil {
		return fmt.Errorf("bluez: RegisterProfile(client): %w", call.Err)
	}
	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()

	call := c.bus.Object(bluezService, c.device).CallWithContext(ctx, deviceIface+".ConnectProfile", 0, SPPUUID)
	if call.Err != nil {
		return fmt.Errorf("bluez: ConnectProfile: %w", call.Err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("bluez: connect canceled: %w", ctx.Err())
	case res := <-c.prof.ch:
		c.mu.Lock()
		defer c.mu.Unlock()
		f := os.NewFile(uintptr(res.fd), "rfcomm")
		if c.closed {
			_ = f.Close()
			return errors.New("bluez: channel closed")
		}
		c.file = f
		c.log.Debug("profile connected", zap.String("peer", macFromPath(res.dev)))
		return nil
	}
}

func (c *profileChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	f := c.file
	c.mu.Unlock()
	if f == nil {
		return 0, errors.New("bluez: channel not connected")
	}
	return f.Write(p)
}

// Close closes the socket and unregisters the profile (best-effort).
func (c *profileChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	f, registered := c.file, c.registered
	c.mu.Unlock()

	var err error
	if f != nil {
		err = f.Close()
	}
	if registered {
		pm := c.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, c.path).Err
	}
	_ = c.bus.Export(nil, c.path, profileInterfaceName)
	return err
}
