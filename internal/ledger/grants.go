// Package ledger holds in-process implementations of the token ledgers the
// marketplace settles against: a fungible payment token and the two asset
// kinds. Every ledger supports Checkpoint so a failed settlement can be
// rolled back as a whole.
package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

var zeroAddress common.Address

// grants is the role and operator-approval state shared by both asset
// ledgers. Callers hold the owning ledger's mutex.
type grants struct {
	admin     common.Address
	roles     map[domain.Role]map[common.Address]bool
	operators map[common.Address]map[common.Address]bool
}

func newGrants(admin common.Address, minters []common.Address) grants {
	g := grants{
		admin:     admin,
		roles:     make(map[domain.Role]map[common.Address]bool),
		operators: make(map[common.Address]map[common.Address]bool),
	}
	for _, m := range minters {
		g.setRole(domain.RoleMinter, m, true)
	}
	return g
}

func (g *grants) setRole(role domain.Role, account common.Address, on bool) {
	members := g.roles[role]
	if members == nil {
		members = make(map[common.Address]bool)
		g.roles[role] = members
	}
	if on {
		members[account] = true
	} else {
		delete(members, account)
	}
}

func (g *grants) hasRole(role domain.Role, account common.Address) bool {
	return g.roles[role][account]
}

func (g *grants) changeRole(caller common.Address, role domain.Role, account common.Address, on bool) error {
	if caller != g.admin {
		return fmt.Errorf("ledger: %s cannot change %s: %w", caller.Hex(), role, domain.ErrAccessDenied)
	}
	g.setRole(role, account, on)
	return nil
}

func (g *grants) setOperator(owner, operator common.Address, approved bool) {
	ops := g.operators[owner]
	if ops == nil {
		ops = make(map[common.Address]bool)
		g.operators[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

func (g *grants) mayMove(operator, from common.Address) error {
	if operator == from || g.operators[from][operator] {
		return nil
	}
	return fmt.Errorf("ledger: %s is not an operator for %s: %w", operator.Hex(), from.Hex(), domain.ErrNotApproved)
}

func (g *grants) requireMinter(minter common.Address) error {
	if !g.hasRole(domain.RoleMinter, minter) {
		return fmt.Errorf("ledger: %s lacks %s: %w", minter.Hex(), domain.RoleMinter, domain.ErrAccessDenied)
	}
	return nil
}

func (g grants) clone() grants {
	out := grants{
		admin:     g.admin,
		roles:     make(map[domain.Role]map[common.Address]bool, len(g.roles)),
		operators: make(map[common.Address]map[common.Address]bool, len(g.operators)),
	}
	for role, members := range g.roles {
		out.roles[role] = cloneSet(members)
	}
	for owner, ops := range g.operators {
		out.operators[owner] = cloneSet(ops)
	}
	return out
}

func cloneSet(in map[common.Address]bool) map[common.Address]bool {
	out := make(map[common.Address]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
