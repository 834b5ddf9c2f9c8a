package firewall

import (
	"fmt"
	"strings"

	"github.com/vishvananda/netlink"
)

// tapPrefix is the interface name prefix used when a hypervisor tap
// device is attached to a VM. This core never attaches one, so none
// should exist.
const tapPrefix = "lg-"

// VerifyNoNIC confirms no VM tap device exists on the host. This is the
// condition under which running without iptables privilege is acceptable:
// a VM with no virtual NIC has device-level network isolation regardless
// of the host ruleset.
func VerifyNoNIC() (bool, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return false, fmt.Errorf("firewall: list links: %w", err)
	}
	for _, l := range links {
		if strings.HasPrefix(l.Attrs().Name, tapPrefix) {
			return false, nil
		}
	}
	return true, nil
}
