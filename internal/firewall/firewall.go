// Package firewall manages per-VM default-deny chains in the host
// iptables ruleset. All reads and writes of firewall state go through
// Manager; chain names are namespaced per VM so concurrent configure and
// teardown of different VMs never touch the same chain.
package firewall

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

// ChainPrefix namespaces every chain this manager owns.
const ChainPrefix = "LUMINAGUARD_"

// iptables limits chain names to 28 bytes.
const maxChainName = 28

const filterTable = "filter"

// ErrUnprivileged is returned when the process lacks the privilege to
// modify the host firewall. Callers may proceed without host-level
// network isolation only when the hypervisor attaches no virtual NIC.
var ErrUnprivileged = errors.New("firewall: insufficient privilege to modify ruleset")

// ipts is the subset of go-iptables used by Manager, extracted so tests
// can run against a fake without CAP_NET_ADMIN.
type ipts interface {
	NewChain(table, chain string) error
	ChainExists(table, chain string) (bool, error)
	AppendUnique(table, chain string, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	Delete(table, chain string, rulespec ...string) error
	ClearChain(table, chain string) error
	DeleteChain(table, chain string) error
	ListChains(table string) ([]string, error)
}

// Manager owns all LUMINAGUARD_* chains on the host.
type Manager struct {
	ipt ipts

	// requireRoot gates the euid fail-fast. Always true for the real
	// backend; fakes clear it.
	requireRoot bool
}

// New creates a Manager backed by the host iptables.
func New() (*Manager, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("firewall: init iptables: %w", err)
	}
	return &Manager{ipt: ipt, requireRoot: true}, nil
}

// newWithClient is the test seam.
func newWithClient(c ipts) *Manager {
	return &Manager{ipt: c}
}

// ChainName derives the iptables chain name for a VM. Non-alphanumeric
// characters (other than underscore) are stripped so a hostile vm_id can
// never smuggle shell- or iptables-significant characters into the
// ruleset, and the result is truncated to the kernel's name limit.
func ChainName(vmID string) string {
	var b strings.Builder
	for _, r := range vmID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	name := ChainPrefix + b.String()
	if len(name) > maxChainName {
		name = name[:maxChainName]
	}
	return name
}

// ConfigureIsolation creates the VM's chain with a single unconditional
// DROP rule and links it into INPUT and FORWARD so traffic actually
// traverses it. The configuration is verified before returning: a chain
// that exists but is not linked is a fail-open defect, so configure
// without a passing verify is an error. On any error the partial state
// is torn down before returning.
func (m *Manager) ConfigureIsolation(vmID string) error {
	if m.requireRoot && os.Geteuid() != 0 {
		return fmt.Errorf("%w (euid %d)", ErrUnprivileged, os.Geteuid())
	}

	chain := ChainName(vmID)

	err := m.install(chain)
	if err == nil && !m.VerifyIsolation(vmID) {
		err = fmt.Errorf("firewall: chain %s configured but verification failed", chain)
	}
	if err != nil {
		// A partially installed chain has no owner to remove it later,
		// and a dangling link rule keeps dropping host traffic.
		if terr := m.Teardown(vmID); terr != nil {
			log.Printf("firewall: rollback of %s after failed configure: %v", chain, terr)
		}
		return err
	}
	return nil
}

func (m *Manager) install(chain string) error {
	exists, err := m.ipt.ChainExists(filterTable, chain)
	if err != nil {
		return m.wrapPrivilege("check chain", chain, err)
	}
	if !exists {
		if err := m.ipt.NewChain(filterTable, chain); err != nil {
			return m.wrapPrivilege("create chain", chain, err)
		}
	}

	// Default-deny: one rule, all protocols, all directions.
	if err := m.ipt.AppendUnique(filterTable, chain, "-j", "DROP"); err != nil {
		return m.wrapPrivilege("install DROP rule", chain, err)
	}

	// Link into the live ruleset.
	for _, hook := range []string{"INPUT", "FORWARD"} {
		if err := m.ipt.AppendUnique(filterTable, hook, "-j", chain); err != nil {
			return m.wrapPrivilege("link chain into "+hook, chain, err)
		}
	}
	return nil
}

// VerifyIsolation re-reads the live ruleset and confirms the chain, its
// DROP rule, and both link rules exist. Exposed for security audits.
func (m *Manager) VerifyIsolation(vmID string) bool {
	chain := ChainName(vmID)

	exists, err := m.ipt.ChainExists(filterTable, chain)
	if err != nil || !exists {
		return false
	}
	ok, err := m.ipt.Exists(filterTable, chain, "-j", "DROP")
	if err != nil || !ok {
		return false
	}
	for _, hook := range []string{"INPUT", "FORWARD"} {
		ok, err := m.ipt.Exists(filterTable, hook, "-j", chain)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Teardown removes the link rules, then the chain. Idempotent: a missing
// chain, or a repeated teardown, is not an error.
func (m *Manager) Teardown(vmID string) error {
	chain := ChainName(vmID)

	// Unlink first so no packet can hit the chain while it is dismantled.
	for _, hook := range []string{"INPUT", "FORWARD"} {
		if ok, _ := m.ipt.Exists(filterTable, hook, "-j", chain); ok {
			if err := m.ipt.Delete(filterTable, hook, "-j", chain); err != nil {
				return m.wrapPrivilege("unlink chain from "+hook, chain, err)
			}
		}
	}

	exists, err := m.ipt.ChainExists(filterTable, chain)
	if err != nil {
		return m.wrapPrivilege("check chain", chain, err)
	}
	if !exists {
		return nil
	}
	if err := m.ipt.ClearChain(filterTable, chain); err != nil {
		return m.wrapPrivilege("flush chain", chain, err)
	}
	if err := m.ipt.DeleteChain(filterTable, chain); err != nil {
		return m.wrapPrivilege("delete chain", chain, err)
	}
	return nil
}

// CleanupOrphans removes every LUMINAGUARD_* chain left over from a
// previous crash. Called once at daemon start.
func (m *Manager) CleanupOrphans() {
	chains, err := m.ipt.ListChains(filterTable)
	if err != nil {
		log.Printf("firewall: list chains for orphan cleanup: %v", err)
		return
	}
	for _, chain := range chains {
		if !strings.HasPrefix(chain, ChainPrefix) {
			continue
		}
		log.Printf("firewall: cleaning up orphaned chain %s", chain)
		for _, hook := range []string{"INPUT", "FORWARD"} {
			if ok, _ := m.ipt.Exists(filterTable, hook, "-j", chain); ok {
				_ = m.ipt.Delete(filterTable, hook, "-j", chain)
			}
		}
		_ = m.ipt.ClearChain(filterTable, chain)
		_ = m.ipt.DeleteChain(filterTable, chain)
	}
}

// wrapPrivilege maps permission failures from the iptables binary to
// ErrUnprivileged so callers can distinguish them from other failures.
func (m *Manager) wrapPrivilege(op, chain string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Permission denied") || strings.Contains(msg, "Operation not permitted") {
		return fmt.Errorf("firewall: %s %s: %w", op, chain, ErrUnprivileged)
	}
	return fmt.Errorf("firewall: %s %s: %w", op, chain, err)
}
