package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
)

var (
	ErrConfigExists = errors.New("ledger config already stored")
	ErrUserExists   = errors.New("user already stored")
)

// Store persists the ledger config, accounts and user credentials.
//
// Get methods return nil, nil when the record does not exist.
type Store interface {
	SaveConfig(ctx context.Context, cfg *model.LedgerConfig) error
	LoadConfig(ctx context.Context) (*model.LedgerConfig, error)

	GetAccount(ctx context.Context, address string) (*model.Account, error)
	// UpdateAccount runs fn on the account (a zero account when none is stored)
	// while holding an exclusive lock on that address. The account is written
	// only if fn returns nil.
	UpdateAccount(ctx context.Context, address string, fn func(acc *model.Account) error) error

	CreateUser(ctx context.Context, user *model.User) error
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	Close() error
}

const (
	StorageMemory   = "memory"
	StorageLevelDB  = "leveldb"
	StoragePostgres = "postgres"
)

type StoreConfig struct {
	Kind           string
	DSN            string
	MigrationsPath string
	LevelDBPath    string
}

// Open builds the backend selected by cfg.Kind.
func Open(cfg StoreConfig) (Store, error) {
	switch cfg.Kind {
	case StorageMemory, "":
		return NewMemoryStore(), nil
	case StorageLevelDB:
		return NewLevelDBStore(cfg.LevelDBPath)
	case StoragePostgres:
		db, err := NewDatabase(DatabaseConfig{
			DSN:            cfg.DSN,
			MigrationsPath: cfg.MigrationsPath,
		})
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Kind)
	}
}
