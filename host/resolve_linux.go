package host

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// InterfaceAddress returns the first IPv4 address of the named local
// interface.
func InterfaceAddress(name string) (string, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return "", fmt.Errorf("failed to find interface %q: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("failed to list addresses of %q: %w", name, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("interface %q has no IPv4 address", name)
	}

	return addrs[0].IP.String(), nil
}
