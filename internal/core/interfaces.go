package core

import (
	"context"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
)

type (
	AuthService interface {
		Register(ctx context.Context, login, password string) (*model.User, string, error)
		Login(ctx context.Context, login, password string) (*model.User, string, error)
		ValidateToken(tokenString string) (string, error)
	}

	// Ledger is the collateral lending state machine. Every method is atomic:
	// it either commits all of its changes or none.
	Ledger interface {
		Initialize(ctx context.Context, sender string, funds model.Coins) (*model.Response, error)
		Deposit(ctx context.Context, sender string, funds model.Coins) (*model.Response, error)
		Borrow(ctx context.Context, sender string, amount model.Amount, funds model.Coins) (*model.Response, error)

		GetBalance(ctx context.Context, address string) (*model.BalanceResponse, error)
		GetDebt(ctx context.Context, address string) (*model.DebtResponse, error)
		GetAccount(ctx context.Context, address string) (*model.AccountResponse, error)
		GetConfig(ctx context.Context) (*model.LedgerConfig, error)
	}
)
