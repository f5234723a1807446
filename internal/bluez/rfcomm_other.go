//go:build !linux

package bluez

import "mediabox-remote/internal/connmgr"

// SocketOpener is unavailable outside Linux.
type SocketOpener struct{}

// NewSocketOpener returns ErrNotSupported.
func NewSocketOpener() (*SocketOpener, error) {
	return nil, ErrNotSupported
}

func (o *SocketOpener) OpenChannel(string, uint8) (connmgr.Channel, error) {
	return nil, ErrNotSupported
}
