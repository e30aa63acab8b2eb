package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Key layout:
//
//	config            -> LedgerConfig
//	account/<address> -> Account
//	user/<login>      -> User
//	meta/user_seq     -> uint64 big endian
var (
	configKey     = []byte("config")
	userSeqKey    = []byte("meta/user_seq")
	accountPrefix = "account/"
	userPrefix    = "user/"
)

type levelDBStore struct {
	db    *leveldb.DB
	write *opt.WriteOptions

	configMu     sync.Mutex
	usersMu      sync.Mutex
	accountLocks *keyLocks
}

// NewLevelDBStore opens or creates a LevelDB database at path.
func NewLevelDBStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}
	return newLevelDBStore(db), nil
}

func newLevelDBStore(db *leveldb.DB) *levelDBStore {
	return &levelDBStore{
		db:           db,
		write:        &opt.WriteOptions{Sync: true},
		accountLocks: newKeyLocks(),
	}
}

func (s *levelDBStore) SaveConfig(_ context.Context, cfg *model.LedgerConfig) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	exists, err := s.db.Has(configKey, nil)
	if err != nil {
		return fmt.Errorf("failed to check config: %w", err)
	}
	if exists {
		return ErrConfigExists
	}
	return s.putJSON(configKey, cfg)
}

func (s *levelDBStore) LoadConfig(_ context.Context) (*model.LedgerConfig, error) {
	cfg := &model.LedgerConfig{}
	found, err := s.getJSON(configKey, cfg)
	if err != nil || !found {
		return nil, err
	}
	return cfg, nil
}

func (s *levelDBStore) GetAccount(_ context.Context, address string) (*model.Account, error) {
	acc := &model.Account{}
	found, err := s.getJSON([]byte(accountPrefix+address), acc)
	if err != nil || !found {
		return nil, err
	}
	return acc, nil
}

func (s *levelDBStore) UpdateAccount(ctx context.Context, address string, fn func(acc *model.Account) error) error {
	unlock := s.accountLocks.lock(address)
	defer unlock()

	acc, err := s.GetAccount(ctx, address)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &model.Account{Address: address}
	}

	if err := fn(acc); err != nil {
		return err
	}
	acc.UpdatedAt = time.Now()

	return s.putJSON([]byte(accountPrefix+address), acc)
}

func (s *levelDBStore) CreateUser(_ context.Context, user *model.User) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	key := []byte(userPrefix + user.Login)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return ErrUserExists
	}

	var seq uint64
	raw, err := s.db.Get(userSeqKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to read user sequence: %w", err)
	default:
		seq = binary.BigEndian.Uint64(raw)
	}
	seq++

	user.ID = int64(seq)
	user.CreatedAt = time.Now()
	value, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	seqValue := make([]byte, 8)
	binary.BigEndian.PutUint64(seqValue, seq)

	batch := new(leveldb.Batch)
	batch.Put(key, value)
	batch.Put(userSeqKey, seqValue)
	if err := s.db.Write(batch, s.write); err != nil {
		return fmt.Errorf("failed to write user: %w", err)
	}
	return nil
}

func (s *levelDBStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	user := &model.User{}
	found, err := s.getJSON([]byte(userPrefix+login), user)
	if err != nil || !found {
		return nil, err
	}
	return user, nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

func (s *levelDBStore) getJSON(key []byte, dst any) (bool, error) {
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *levelDBStore) putJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Put(key, raw, s.write); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
