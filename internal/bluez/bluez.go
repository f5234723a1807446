// Package bluez implements the Bluetooth side of connmgr on top of BlueZ:
// adapter state over the system D-Bus and RFCOMM channels either as raw
// sockets or through a registered Profile1.
package bluez

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

// ErrNotSupported is returned on platforms without RFCOMM sockets.
var ErrNotSupported = errors.New("bluez: not supported on this platform")

const (
	// SPPUUID is the Serial Port Profile UUID.
	SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

	bluezService         = "org.bluez"
	profileInterfaceName = "org.bluez.Profile1"
	profileManagerIface  = "org.bluez.ProfileManager1"
	deviceIface          = "org.bluez.Device1"
	adapterIface         = "org.bluez.Adapter1"
	objManagerIface      = "org.freedesktop.DBus.ObjectManager"
	propsIface           = "org.freedesktop.DBus.Properties"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// deviceObjectPath converts "AA:BB:CC:DD:EE:FF" under adapter to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// pickAdapter returns the adapter object path named name (e.g. "hci0"), or
// the first adapter when name is empty.
func pickAdapter(objs managedObjects, name string) (dbus.ObjectPath, bool) {
	var first dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; !ok {
			continue
		}
		if name != "" && strings.HasSuffix(string(path), "/"+name) {
			return path, true
		}
		if first == "" || path < first {
			first = path
		}
	}
	if name != "" || first == "" {
		return "", false
	}
	return first, true
}

// parseAddress converts a textual hardware address into the byte order
// used by bdaddr_t (least significant byte first).
func parseAddress(addr string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("bluez: invalid address %q", addr)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return out, fmt.Errorf("bluez: invalid address %q", addr)
		}
		out[5-i] = uint8(b)
	}
	return out, nil
}
