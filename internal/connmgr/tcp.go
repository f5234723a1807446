package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// TCPConnector opens plain TCP connections to the mediabox input port.
type TCPConnector struct {
	// Port defaults to DefaultPort.
	Port int

	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver

	Logger *zap.Logger
}

// Connect resolves identifier and dials it. No timeout is set on the dialer;
// ctx only carries cancellation. There are no retries.
func (c *TCPConnector) Connect(ctx context.Context, identifier string) (Handle, error) {
	log := loggerOr(c.Logger)
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(ctx, identifier)
	if err != nil || len(addrs) == 0 {
		if err == nil {
			err = errors.New("no addresses")
		}
		return nil, fmt.Errorf("connmgr: resolve %q: %w: %w", identifier, ErrHostUnresolvable, err)
	}

	addr := net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(port))
	log.Debug("opening tcp socket", zap.String("identifier", identifier), zap.String("addr", addr))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connmgr: dial %s: %w: %w", addr, ErrConnection, err)
	}
	return conn, nil
}

func loggerOr(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.L()
	}
	return l
}
