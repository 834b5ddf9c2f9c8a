//go:build !linux

package firewall

import "errors"

// VerifyNoNIC requires netlink; on non-Linux hosts the degraded mode is
// never acceptable because it cannot be verified.
func VerifyNoNIC() (bool, error) {
	return false, errors.New("firewall: NIC verification requires linux")
}
