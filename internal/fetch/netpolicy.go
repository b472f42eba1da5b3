package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// ErrBlockedAddress reports a connection attempt to a loopback, private,
// link-local or otherwise non-public address.
var ErrBlockedAddress = errors.New("address is not publicly routable")

type options struct {
	allowPrivate bool
}

// Option tunes the network policy of Guard and Direct.
type Option func(*options)

// AllowPrivateNetworks lets fetches reach loopback and private addresses.
// Only meant for local development and tests.
func AllowPrivateNetworks() Option {
	return func(o *options) { o.allowPrivate = true }
}

func applyOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast()
}

// dialControl runs after DNS resolution, so hostnames that resolve to
// internal addresses are caught as well as IP literals.
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", address, ErrBlockedAddress)
	}
	if !publicAddr(ip) {
		return fmt.Errorf("dialing %s: %w", ip, ErrBlockedAddress)
	}
	return nil
}
