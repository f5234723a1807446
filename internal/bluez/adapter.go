package bluez

import (
	"fmt"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"mediabox-remote/internal/connmgr"
)

// Adapter is a BlueZ adapter reached over the system bus. The bus is
// connected lazily on first use so that a missing bluetoothd surfaces as
// connmgr.ErrDeviceNotFound from Device rather than at construction.
type Adapter struct {
	name string
	log  *zap.Logger

	mu   sync.Mutex
	bus  *dbus.Conn
	path dbus.ObjectPath

	// cleanup functions run once by Close, in reverse order.
	cleanup []func()
}

// NewAdapter returns an adapter handle for name ("hci0"); an empty name picks
// the first adapter BlueZ reports.
func NewAdapter(name string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.L()
	}
	return &Adapter{name: name, log: logger}
}

var _ connmgr.Adapter = (*Adapter)(nil)

// ensureBusLocked connects to the system bus and locates the adapter.
func (a *Adapter) ensureBusLocked() error {
	if a.bus != nil {
		return nil
	}
	c, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("bluez: connect system bus: %w: %w", connmgr.ErrDeviceNotFound, err)
	}
	objs, err := getManagedObjects(c)
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: %w", connmgr.ErrDeviceNotFound, err)
	}
	path, ok := pickAdapter(objs, a.name)
	if !ok {
		c.Close()
		return fmt.Errorf("bluez: adapter %q: %w", a.name, connmgr.ErrDeviceNotFound)
	}
	a.bus = c
	a.path = path
	// Close the bus last during cleanup.
	a.cleanup = append(a.cleanup, func() { c.Close() })
	return nil
}

func (a *Adapter) conn() (*dbus.Conn, dbus.ObjectPath, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureBusLocked(); err != nil {
		return nil, "", err
	}
	return a.bus, a.path, nil
}

// Device checks that the adapter is present and powered. The remote device
// need not be known to BlueZ yet; RFCOMM sockets address it directly.
func (a *Adapter) Device(address string) error {
	if _, err := parseAddress(address); err != nil {
		return fmt.Errorf("%w: %w", connmgr.ErrDeviceNotFound, err)
	}
	bus, path, err := a.conn()
	if err != nil {
		return err
	}
	powered, err := getBool(bus, path, adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("bluez: read Powered: %w: %w", connmgr.ErrDeviceNotFound, err)
	}
	if !powered {
		return fmt.Errorf("bluez: adapter %s powered off: %w", path, connmgr.ErrDeviceNotFound)
	}
	a.log.Debug("resolved device",
		zap.String("adapter", string(path)),
		zap.String("device", string(deviceObjectPath(path, address))))
	return nil
}

// Discovering reports Adapter1.Discovering.
func (a *Adapter) Discovering() (bool, error) {
	bus, path, err := a.conn()
	if err != nil {
		return false, err
	}
	return getBool(bus, path, adapterIface, "Discovering")
}

// FetchServices returns the service UUIDs BlueZ resolved over SDP for the
// device. It fails when BlueZ has never seen the device.
func (a *Adapter) FetchServices(address string) ([]string, error) {
	bus, path, err := a.conn()
	if err != nil {
		return nil, err
	}
	v, err := getProp(bus, deviceObjectPath(path, address), deviceIface, "UUIDs")
	if err != nil {
		return nil, fmt.Errorf("bluez: read UUIDs: %w", err)
	}
	uuids, ok := v.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("bluez: UUIDs has type %s", v.Signature())
	}
	return uuids, nil
}

// Close releases the bus connection. It is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.bus = nil
	a.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}

func getManagedObjects(bus *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	obj := bus.Object(bluezService, dbus.ObjectPath("/"))
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	} else if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

func getProp(bus *dbus.Conn, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := bus.Object(bluezService, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func getBool(bus *dbus.Conn, path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := getProp(bus, path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property %s is not bool", prop)
	}
	return val, nil
}
