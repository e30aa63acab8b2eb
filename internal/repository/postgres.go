package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type postgresStore struct {
	db *Database
}

func NewPostgresStore(db *Database) Store {
	return &postgresStore{db: db}
}

func (r *postgresStore) SaveConfig(ctx context.Context, cfg *model.LedgerConfig) error {
	query := `INSERT INTO ledger_config (id, denom, ltv_bps, owner, initialized_at)
              VALUES (1, $1, $2, $3, $4)
              ON CONFLICT (id) DO NOTHING`

	res, err := r.db.conn.ExecContext(ctx, query, cfg.Denom, int64(cfg.LTVBps), cfg.Owner, cfg.InitializedAt)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if n == 0 {
		return ErrConfigExists
	}
	return nil
}

func (r *postgresStore) LoadConfig(ctx context.Context) (*model.LedgerConfig, error) {
	cfg := &model.LedgerConfig{}
	var ltv int64
	query := `SELECT denom, ltv_bps, owner, initialized_at FROM ledger_config WHERE id = 1`

	err := r.db.conn.QueryRowContext(ctx, query).Scan(&cfg.Denom, &ltv, &cfg.Owner, &cfg.InitializedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.LTVBps = uint64(ltv)
	return cfg, nil
}

func (r *postgresStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	query := `SELECT address, balance::text, debt::text, updated_at FROM accounts WHERE address = $1`
	acc, err := scanAccount(r.db.conn.QueryRowContext(ctx, query, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (r *postgresStore) UpdateAccount(ctx context.Context, address string, fn func(acc *model.Account) error) error {
	return r.db.InTx(ctx, accountTxOptions, func(tx *sql.Tx) error {
		// Make sure a row exists so FOR UPDATE has something to lock. Rolled
		// back together with everything else when fn fails.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, address); err != nil {
			return fmt.Errorf("failed to prepare account: %w", err)
		}

		acc, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT address, balance::text, debt::text, updated_at FROM accounts WHERE address = $1 FOR UPDATE`, address))
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}

		if err := fn(acc); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = $1::numeric, debt = $2::numeric, updated_at = now() WHERE address = $3`,
			acc.Balance.String(), acc.Debt.String(), address); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		return nil
	})
}

func (r *postgresStore) CreateUser(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id, created_at`
	err := r.db.conn.QueryRowContext(ctx, query, user.Login, user.PasswordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *postgresStore) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT id, login, password_hash, created_at FROM users WHERE login = $1`
	err := r.db.conn.QueryRowContext(ctx, query, login).Scan(&user.ID, &user.Login, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (r *postgresStore) Close() error {
	return r.db.Close()
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	acc := &model.Account{}
	var balance, debt string
	if err := row.Scan(&acc.Address, &balance, &debt, &acc.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if acc.Balance, err = model.ParseAmount(balance); err != nil {
		return nil, fmt.Errorf("stored balance: %w", err)
	}
	if acc.Debt, err = model.ParseAmount(debt); err != nil {
		return nil, fmt.Errorf("stored debt: %w", err)
	}
	return acc, nil
}
