//go:build !linux

package host

import (
	"fmt"
	"net"
)

// InterfaceAddress returns the first IPv4 address of the named local
// interface.
func InterfaceAddress(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("failed to find interface %q: %w", name, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("failed to list addresses of %q: %w", name, err)
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
	}

	return "", fmt.Errorf("interface %q has no IPv4 address", name)
}
