package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

var seller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type fakeRoles map[common.Address]bool

func (f fakeRoles) HasRole(_ context.Context, role domain.Role, account common.Address) (bool, error) {
	return role == domain.RoleMinter && f[account], nil
}

type brokenRoles struct{}

func (brokenRoles) HasRole(context.Context, domain.Role, common.Address) (bool, error) {
	return false, errors.New("ledger offline")
}

func TestSecondStrikeBans(t *testing.T) {
	g := NewGuard(0)
	at := time.Unix(1_700_000_000, 0)

	if err := g.AssertNotBlacklisted(seller); err != nil {
		t.Fatalf("fresh address should pass: %v", err)
	}
	e, banned := g.RecordCancelStrike(seller, at)
	if banned || e.Strikes != 1 {
		t.Fatalf("first strike: banned=%v strikes=%d", banned, e.Strikes)
	}
	if err := g.AssertNotBlacklisted(seller); err != nil {
		t.Fatalf("one strike should not ban: %v", err)
	}

	e, banned = g.RecordCancelStrike(seller, at.Add(time.Minute))
	if !banned || !e.Banned || e.Strikes != 2 {
		t.Fatalf("second strike: banned=%v entry=%+v", banned, e)
	}
	if err := g.AssertNotBlacklisted(seller); !errors.Is(err, domain.ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}

	_, banned = g.RecordCancelStrike(seller, at.Add(2*time.Minute))
	if banned {
		t.Fatal("ban should be reported only once")
	}
}

func TestConfigurableThreshold(t *testing.T) {
	g := NewGuard(3)
	at := time.Unix(0, 0)
	for i := 0; i < 2; i++ {
		g.RecordCancelStrike(seller, at)
	}
	if err := g.AssertNotBlacklisted(seller); err != nil {
		t.Fatalf("two strikes under threshold 3 should pass: %v", err)
	}
	g.RecordCancelStrike(seller, at)
	if err := g.AssertNotBlacklisted(seller); !errors.Is(err, domain.ErrBlacklisted) {
		t.Fatalf("expected ErrBlacklisted, got %v", err)
	}
}

func TestCheckpointUndoesStrike(t *testing.T) {
	g := NewGuard(1)
	restore := g.Checkpoint()
	g.RecordCancelStrike(seller, time.Unix(0, 0))
	restore()

	if _, ok := g.Entry(seller); ok {
		t.Fatal("expected no entry after restore")
	}
	if err := g.AssertNotBlacklisted(seller); err != nil {
		t.Fatalf("expected clean state, got %v", err)
	}
}

func TestAssertHasRole(t *testing.T) {
	market := common.HexToAddress("0x000000000000000000000000000000000000beef")
	g := NewGuard(0)
	ctx := context.Background()

	tests := []struct {
		name    string
		roles   domain.RoleStore
		wantErr error
	}{
		{"granted", fakeRoles{market: true}, nil},
		{"missing", fakeRoles{}, domain.ErrAccessDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := g.AssertHasRole(ctx, tc.roles, market, domain.RoleMinter)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("lookup failure", func(t *testing.T) {
		err := g.AssertHasRole(ctx, brokenRoles{}, market, domain.RoleMinter)
		if err == nil || errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("expected a lookup error, got %v", err)
		}
	})
}

func TestEntriesOrderedByStrikes(t *testing.T) {
	other := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	g := NewGuard(5)
	at := time.Unix(0, 0)
	g.RecordCancelStrike(seller, at)
	g.RecordCancelStrike(other, at)
	g.RecordCancelStrike(other, at)

	got := g.Entries()
	if len(got) != 2 || got[0].Address != other || got[1].Address != seller {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSeedRestoresStrikes(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000b0b00")
	g := NewGuard(2)
	at := time.Unix(1_700_000_000, 0)
	g.RecordCancelStrike(other, at)
	g.RecordCancelStrike(other, at)

	g.Seed([]domain.BlacklistEntry{
		{Address: seller, Strikes: 2, UpdatedAt: at},
		{Address: other, Strikes: 1, UpdatedAt: at},
	})

	if err := g.AssertNotBlacklisted(seller); !errors.Is(err, domain.ErrBlacklisted) {
		t.Fatalf("seeded seller with 2 strikes not banned: %v", err)
	}
	e, _ := g.Entry(other)
	if e.Strikes != 2 || !e.Banned {
		t.Fatalf("seed lowered live state: %+v", e)
	}
}
