// Package connmgr connects a remote control to a mediabox over TCP or
// Bluetooth RFCOMM and sends it one command per line.
//
// Thread-safety: Manager methods are safe for concurrent use. Open returns
// immediately; the connection is established on a background goroutine.
// Connectors and Session are used by Manager and may be used directly.
package connmgr

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
)

const (
	// BluetoothSentinel is the reserved identifier that selects the Bluetooth
	// transport. It is the hardware address of the mediabox RFCOMM endpoint.
	BluetoothSentinel = "00:02:72:13:75:93"

	// DefaultHost is used when the identifier is empty.
	DefaultHost = "10.10.0.14"

	// DefaultPort is the mediabox TCP input port.
	DefaultPort = 2048

	// DefaultRFCOMMChannel is the fixed RFCOMM channel the mediabox listens on.
	DefaultRFCOMMChannel uint8 = 1
)

var (
	ErrHostUnresolvable   = errors.New("host unresolvable")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrConnection         = errors.New("connection error")
	ErrSend               = errors.New("send error")
)

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// Kind is the transport a Config selects.
type Kind int

const (
	KindTCP Kind = iota
	KindBluetooth
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindBluetooth:
		return "bluetooth"
	default:
		return "unknown"
	}
}

// Config is an immutable device selection.
type Config struct {
	identifier string
	kind       Kind
}

// NewConfig derives the transport kind from identifier. The Bluetooth sentinel
// and anything shaped like a hardware address select Bluetooth; everything else
// is a TCP host name or IP. An empty identifier means DefaultHost.
func NewConfig(identifier string) Config {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Config{identifier: DefaultHost, kind: KindTCP}
	}
	if strings.EqualFold(id, BluetoothSentinel) || macPattern.MatchString(id) {
		return Config{identifier: strings.ToUpper(id), kind: KindBluetooth}
	}
	return Config{identifier: id, kind: KindTCP}
}

// Identifier returns the host or hardware address.
func (c Config) Identifier() string { return c.identifier }

// Kind returns the transport selected by the identifier.
func (c Config) Kind() Kind { return c.kind }

// Handle is an open transport owned by exactly one Session.
type Handle = io.WriteCloser

// Connector opens a transport to a device identifier.
// The returned Handle is owned by the caller.
type Connector interface {
	Connect(ctx context.Context, identifier string) (Handle, error)
}

// Adapter is the local Bluetooth adapter as seen by BluetoothConnector.
type Adapter interface {
	// Device resolves the remote device for address. It fails with an error
	// wrapping ErrDeviceNotFound when the Bluetooth subsystem is unavailable.
	Device(address string) error

	// Discovering reports whether a discovery scan is in progress.
	Discovering() (bool, error)

	// FetchServices triggers or reads SDP records and returns the service UUIDs.
	FetchServices(address string) ([]string, error)
}

// Channel is an RFCOMM channel that has been created but not yet connected.
type Channel interface {
	io.WriteCloser
	Connect(ctx context.Context) error
}

// ChannelOpener creates RFCOMM channels by number.
// A nil Channel with a nil error means the platform produced no channel.
type ChannelOpener interface {
	OpenChannel(address string, channel uint8) (Channel, error)
}
