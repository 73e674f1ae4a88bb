package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/market"
)

// AccountView summarises what an address holds and has approved.
type AccountView struct {
	Address   common.Address `json:"address"`
	Balance   *big.Int       `json:"balance"`
	Allowance *big.Int       `json:"allowance"`
	// Approvals maps each asset ledger address to the operator approval
	// granted to the marketplace.
	Approvals map[string]bool `json:"approvals"`
	Strikes   int             `json:"strikes"`
	Banned    bool            `json:"banned"`
}

// ApproveRequest sets the marketplace allowances of one owner.
type ApproveRequest struct {
	// Allowance is the payment allowance; nil leaves it unchanged.
	Allowance *big.Int
	// Assets grants or revokes operator approval on every asset ledger;
	// nil leaves approvals unchanged.
	Assets *bool
}

// FaucetRequest credits payment tokens and optionally mints an asset.
type FaucetRequest struct {
	To        common.Address
	Amount    *big.Int
	AssetKind domain.AssetKind
	AssetRef  common.Address
	AssetID   uint64
	Quantity  uint64
	URI       string
}

// AccountService manages the ledger side of an account. Every mutation runs
// through Engine.Apply so it serialises with settlement.
type AccountService struct {
	engine *market.Engine
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAccountService creates an AccountService. audit may be nil.
func NewAccountService(engine *market.Engine, audit domain.AuditStore, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		engine: engine,
		audit:  audit,
		logger: logger.With(slog.String("component", "account_service")),
	}
}

// Account reads balances, approvals and strike state for addr.
func (s *AccountService) Account(ctx context.Context, addr common.Address) (AccountView, error) {
	pay := s.engine.Payment()
	bal, err := pay.BalanceOf(ctx, addr)
	if err != nil {
		return AccountView{}, fmt.Errorf("account_service: balance: %w", err)
	}
	allowance, err := pay.Allowance(ctx, addr, s.engine.Address())
	if err != nil {
		return AccountView{}, fmt.Errorf("account_service: allowance: %w", err)
	}

	view := AccountView{
		Address:   addr,
		Balance:   bal,
		Allowance: allowance,
		Approvals: make(map[string]bool),
	}
	for _, l := range s.engine.Assets() {
		ok, err := l.IsApprovedForAll(ctx, addr, s.engine.Address())
		if err != nil {
			return AccountView{}, fmt.Errorf("account_service: approval on %s: %w", l.Address().Hex(), err)
		}
		view.Approvals[l.Address().Hex()] = ok
	}
	if e, ok := s.engine.Guard().Entry(addr); ok {
		view.Strikes = e.Strikes
		view.Banned = e.Banned
	}
	return view, nil
}

// Approve updates the marketplace allowance and operator approvals of owner.
func (s *AccountService) Approve(ctx context.Context, owner common.Address, req ApproveRequest) error {
	if req.Allowance == nil && req.Assets == nil {
		return fmt.Errorf("account_service: approve: nothing to change: %w", domain.ErrZeroAmount)
	}
	if req.Allowance != nil && req.Allowance.Sign() < 0 {
		return fmt.Errorf("account_service: approve: %w", domain.ErrZeroAmount)
	}
	operator := s.engine.Address()
	return s.engine.Apply(ctx, "approve", func(ctx context.Context) error {
		if req.Allowance != nil {
			if err := s.engine.Payment().Approve(ctx, owner, operator, req.Allowance); err != nil {
				return err
			}
		}
		if req.Assets != nil {
			for _, l := range s.engine.Assets() {
				if err := l.SetApprovalForAll(ctx, owner, operator, *req.Assets); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Faucet credits req.To. Assets are minted by the marketplace account, which
// must hold the MINTER role on the target ledger.
func (s *AccountService) Faucet(ctx context.Context, req FaucetRequest) error {
	hasAmount := req.Amount != nil && req.Amount.Sign() > 0
	if !hasAmount && req.AssetKind == 0 {
		return fmt.Errorf("account_service: faucet: %w", domain.ErrZeroAmount)
	}
	if req.Amount != nil && req.Amount.Sign() < 0 {
		return fmt.Errorf("account_service: faucet: %w", domain.ErrZeroAmount)
	}

	var ledger domain.AssetLedger
	if req.AssetKind != 0 {
		if err := domain.CheckQuantity(req.AssetKind, req.Quantity); err != nil {
			return fmt.Errorf("account_service: faucet: %w", err)
		}
		l, err := s.engine.AssetLedger(req.AssetKind, req.AssetRef)
		if err != nil {
			return fmt.Errorf("account_service: faucet: %w", err)
		}
		ledger = l
	}

	err := s.engine.Apply(ctx, "faucet", func(ctx context.Context) error {
		if hasAmount {
			if err := s.engine.Payment().Mint(ctx, req.To, req.Amount); err != nil {
				return err
			}
		}
		if ledger != nil {
			return ledger.Mint(ctx, s.engine.Address(), req.To, req.AssetID, req.Quantity, req.URI)
		}
		return nil
	})
	if err != nil {
		return err
	}

	detail := map[string]any{"to": req.To.Hex()}
	if hasAmount {
		detail["amount"] = req.Amount.String()
	}
	if ledger != nil {
		detail["asset"] = ledger.Address().Hex()
		detail["asset_id"] = req.AssetID
		detail["quantity"] = req.Quantity
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "faucet", detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "faucet credited", slog.String("to", req.To.Hex()))
	return nil
}
