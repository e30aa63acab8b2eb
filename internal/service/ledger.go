package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidInstantiation = errors.New("invalid instantiation")
	ErrInvalidDeposit       = errors.New("Invalid deposit!")
	ErrBorrowTooMuch        = errors.New("Borrow too much!")

	ErrNotInitialized     = errors.New("ledger is not initialized")
	ErrAlreadyInitialized = errors.New("ledger is already initialized")
	ErrFundsNotAccepted   = errors.New("borrow does not accept funds")
	ErrAmountOverflow     = errors.New("amount overflow")
	ErrInvalidAddress     = errors.New("invalid address")
)

// IsRejection reports whether err is the caller's fault rather than a
// storage failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidInstantiation) ||
		errors.Is(err, ErrInvalidDeposit) ||
		errors.Is(err, ErrBorrowTooMuch) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrAlreadyInitialized) ||
		errors.Is(err, ErrFundsNotAccepted) ||
		errors.Is(err, ErrAmountOverflow) ||
		errors.Is(err, ErrInvalidAddress)
}

const (
	methodInstantiate = "instantiate"
	methodDeposit     = "deposit"
	methodBorrow      = "borrow"
)

// LedgerParams fixes what Initialize accepts and records.
type LedgerParams struct {
	Denom  string
	LTVBps uint64
}

func (p LedgerParams) Validate() error {
	if strings.TrimSpace(p.Denom) == "" {
		return errors.New("ledger denom is required")
	}
	if p.LTVBps == 0 || p.LTVBps > model.BasisPoints {
		return fmt.Errorf("ledger ltv must be within (0, %d] bps, got %d", model.BasisPoints, p.LTVBps)
	}
	return nil
}

type ledgerService struct {
	store   repository.Store
	params  LedgerParams
	metrics *Metrics
	logger  *zap.Logger

	config atomic.Pointer[model.LedgerConfig]
	now    func() time.Time
}

func NewLedgerService(
	store repository.Store,
	params LedgerParams,
	metrics *Metrics,
	logger *zap.Logger,
) (core.Ledger, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ledgerService{
		store:   store,
		params:  params,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *ledgerService) Initialize(ctx context.Context, sender string, funds model.Coins) (resp *model.Response, err error) {
	defer func(started time.Time) { s.metrics.observe(methodInstantiate, started, err) }(s.now())

	coin, ok := funds.Single(s.params.Denom)
	if !ok {
		s.logger.Debug("Rejected instantiation funds",
			zap.String("sender", sender),
			zap.Int("coins", len(funds)))
		return nil, ErrInvalidInstantiation
	}

	cfg := &model.LedgerConfig{
		Denom:         s.params.Denom,
		LTVBps:        s.params.LTVBps,
		Owner:         sender,
		InitializedAt: s.now().UTC(),
	}
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		if errors.Is(err, repository.ErrConfigExists) {
			return nil, ErrAlreadyInitialized
		}
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	s.config.Store(cfg)

	resp = newResponse(methodInstantiate, sender).
		AddAttribute("denom", cfg.Denom).
		AddAttribute("amount", coin.Amount.String())

	s.logger.Info("Ledger initialized",
		zap.String("tx_id", resp.TxID),
		zap.String("owner", sender),
		zap.String("denom", cfg.Denom),
		zap.Uint64("ltv_bps", cfg.LTVBps))
	return resp, nil
}

func (s *ledgerService) Deposit(ctx context.Context, sender string, funds model.Coins) (resp *model.Response, err error) {
	defer func(started time.Time) { s.metrics.observe(methodDeposit, started, err) }(s.now())

	if err := validateAddress(sender); err != nil {
		return nil, err
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	coin, ok := funds.Single(cfg.Denom)
	if !ok {
		s.logger.Debug("Rejected deposit funds",
			zap.String("sender", sender),
			zap.Int("coins", len(funds)))
		return nil, ErrInvalidDeposit
	}

	var balance model.Amount
	err = s.store.UpdateAccount(ctx, sender, func(acc *model.Account) error {
		sum, overflow := acc.Balance.Add(coin.Amount)
		if overflow {
			return ErrAmountOverflow
		}
		acc.Balance = sum
		balance = sum
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("deposit", err)
	}

	resp = newResponse(methodDeposit, sender).
		AddAttribute("denom", cfg.Denom).
		AddAttribute("amount", coin.Amount.String())

	s.logger.Info("Deposit accepted",
		zap.String("tx_id", resp.TxID),
		zap.String("address", sender),
		zap.String("amount", coin.Amount.String()),
		zap.String("balance", balance.String()))
	return resp, nil
}

// Borrow checks the request against the cumulative debt: the remaining
// capacity is floor(balance * ltv) minus what is already owed.
func (s *ledgerService) Borrow(ctx context.Context, sender string, amount model.Amount, funds model.Coins) (resp *model.Response, err error) {
	defer func(started time.Time) { s.metrics.observe(methodBorrow, started, err) }(s.now())

	if err := validateAddress(sender); err != nil {
		return nil, err
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(funds) > 0 {
		return nil, ErrFundsNotAccepted
	}

	resp = newResponse(methodBorrow, sender).
		AddAttribute("denom", cfg.Denom).
		AddAttribute("amount", amount.String())

	if amount.IsZero() {
		return resp, nil
	}

	var debt model.Amount
	err = s.store.UpdateAccount(ctx, sender, func(acc *model.Account) error {
		if amount.Cmp(acc.Borrowable(cfg.LTVBps)) > 0 {
			return ErrBorrowTooMuch
		}
		sum, overflow := acc.Debt.Add(amount)
		if overflow {
			return ErrAmountOverflow
		}
		acc.Debt = sum
		if !acc.Solvent(cfg.LTVBps) {
			return ErrBorrowTooMuch
		}
		debt = sum
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBorrowTooMuch) {
			s.logger.Debug("Rejected borrow",
				zap.String("address", sender),
				zap.String("amount", amount.String()))
		}
		return nil, wrapStoreErr("borrow", err)
	}

	s.logger.Info("Borrow accepted",
		zap.String("tx_id", resp.TxID),
		zap.String("address", sender),
		zap.String("amount", amount.String()),
		zap.String("debt", debt.String()))
	return resp, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, address string) (*model.BalanceResponse, error) {
	cfg, acc, err := s.readAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return &model.BalanceResponse{
		Amount: model.Coin{Denom: cfg.Denom, Amount: acc.Balance},
	}, nil
}

func (s *ledgerService) GetDebt(ctx context.Context, address string) (*model.DebtResponse, error) {
	_, acc, err := s.readAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return &model.DebtResponse{Amount: acc.Debt}, nil
}

func (s *ledgerService) GetAccount(ctx context.Context, address string) (*model.AccountResponse, error) {
	cfg, acc, err := s.readAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return &model.AccountResponse{
		Address:    address,
		Balance:    model.Coin{Denom: cfg.Denom, Amount: acc.Balance},
		Debt:       acc.Debt,
		Borrowable: acc.Borrowable(cfg.LTVBps),
	}, nil
}

func (s *ledgerService) GetConfig(ctx context.Context) (*model.LedgerConfig, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := *cfg
	return &out, nil
}

func (s *ledgerService) readAccount(ctx context.Context, address string) (*model.LedgerConfig, *model.Account, error) {
	if err := validateAddress(address); err != nil {
		return nil, nil, err
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	acc, err := s.store.GetAccount(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acc == nil {
		acc = &model.Account{Address: address}
	}
	return cfg, acc, nil
}

// loadConfig caches the config after the first successful read; it never
// changes once written.
func (s *ledgerService) loadConfig(ctx context.Context) (*model.LedgerConfig, error) {
	if cfg := s.config.Load(); cfg != nil {
		return cfg, nil
	}
	cfg, err := s.store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	s.config.Store(cfg)
	return cfg, nil
}

func newResponse(method, sender string) *model.Response {
	resp := &model.Response{TxID: uuid.NewString()}
	return resp.AddAttribute("method", method).AddAttribute("sender", sender)
}

func validateAddress(address string) error {
	if strings.TrimSpace(address) == "" {
		return ErrInvalidAddress
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	if IsRejection(err) {
		return err
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
