// Package access tracks cancel strikes and bans, and answers capability
// questions by delegating to the asset ledgers' role stores.
package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// DefaultStrikeThreshold bans an address on its second cancellation.
const DefaultStrikeThreshold = 2

// Guard owns the blacklist. It is safe for concurrent readers; mutations
// are expected to come from the engine's single writer.
type Guard struct {
	mu        sync.RWMutex
	threshold int
	entries   map[common.Address]domain.BlacklistEntry
}

// NewGuard returns a guard that bans an address once its strike count
// reaches threshold. A non-positive threshold selects the default.
func NewGuard(threshold int) *Guard {
	if threshold <= 0 {
		threshold = DefaultStrikeThreshold
	}
	return &Guard{
		threshold: threshold,
		entries:   make(map[common.Address]domain.BlacklistEntry),
	}
}

func (g *Guard) Threshold() int { return g.threshold }

// AssertNotBlacklisted fails with ErrBlacklisted when addr is banned.
func (g *Guard) AssertNotBlacklisted(addr common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entries[addr].Banned {
		return fmt.Errorf("access: %s: %w", addr.Hex(), domain.ErrBlacklisted)
	}
	return nil
}

// RecordCancelStrike adds a strike for addr. The returned flag is true only
// on the strike that crosses the threshold.
func (g *Guard) RecordCancelStrike(addr common.Address, at time.Time) (domain.BlacklistEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entries[addr]
	e.Address = addr
	e.Strikes++
	e.UpdatedAt = at
	newlyBanned := false
	if !e.Banned && e.Strikes >= g.threshold {
		e.Banned = true
		newlyBanned = true
	}
	g.entries[addr] = e
	return e, newlyBanned
}

// AssertHasRole fails with ErrAccessDenied unless roles grants role to
// account.
func (g *Guard) AssertHasRole(ctx context.Context, roles domain.RoleStore, account common.Address, role domain.Role) error {
	ok, err := roles.HasRole(ctx, role, account)
	if err != nil {
		return fmt.Errorf("access: role lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("access: %s lacks %s: %w", account.Hex(), role, domain.ErrAccessDenied)
	}
	return nil
}

// Entry returns the strike state for addr.
func (g *Guard) Entry(addr common.Address) (domain.BlacklistEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[addr]
	return e, ok
}

// Entries lists every address with at least one strike, most strikes first.
func (g *Guard) Entries() []domain.BlacklistEntry {
	g.mu.RLock()
	out := make([]domain.BlacklistEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strikes != out[j].Strikes {
			return out[i].Strikes > out[j].Strikes
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	return out
}

// Seed loads persisted strike state, keeping the higher count where an
// address is already known. Bans are recomputed against the current
// threshold but never lifted.
func (g *Guard) Seed(entries []domain.BlacklistEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entries {
		cur, ok := g.entries[e.Address]
		if ok && cur.Strikes >= e.Strikes {
			continue
		}
		e.Banned = e.Banned || e.Strikes >= g.threshold
		g.entries[e.Address] = e
	}
}

func (g *Guard) Checkpoint() func() {
	g.mu.RLock()
	saved := make(map[common.Address]domain.BlacklistEntry, len(g.entries))
	for k, v := range g.entries {
		saved[k] = v
	}
	g.mu.RUnlock()
	return func() {
		g.mu.Lock()
		g.entries = saved
		g.mu.Unlock()
	}
}
