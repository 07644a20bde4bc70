package node

import (
	"context"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
)

// Binding resolves the address other units reach this one on. An empty
// address with a nil error means the network binding is not assigned yet.
type Binding interface {
	IngressAddress(ctx context.Context) (string, error)
}

// StaticBinding always returns the same address.
type StaticBinding string

func (b StaticBinding) IngressAddress(context.Context) (string, error) {
	return string(b), nil
}

// InterfaceBinding returns the first IPv4 address on a network interface,
// falling back to the first IPv6 one.
type InterfaceBinding string

func (b InterfaceBinding) IngressAddress(context.Context) (string, error) {
	iface, err := net.InterfaceByName(string(b))
	if err != nil {
		// interface not plugged yet
		return "", nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", errors.Wrapf(err, "addresses of %s", b)
	}
	return pickAddress(addrs), nil
}

func pickAddress(addrs []net.Addr) string {
	var v6 string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
		if v6 == "" {
			v6 = ipnet.IP.String()
		}
	}
	return v6
}

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}
