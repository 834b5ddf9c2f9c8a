//go:build !(linux && amd64)

package seccomp

import "fmt"

// Profiles can be constructed and queried on any platform; rendering a
// hypervisor filter file requires an architecture numbering table.
func syscallNumber(name string) (int64, error) {
	return 0, fmt.Errorf("syscall numbering for %q not available on this platform", name)
}
