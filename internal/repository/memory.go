package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
)

type memoryStore struct {
	mu       sync.RWMutex
	config   *model.LedgerConfig
	accounts map[string]model.Account
	users    map[string]model.User
	nextID   int64

	accountLocks *keyLocks
}

func NewMemoryStore() Store {
	return &memoryStore{
		accounts:     make(map[string]model.Account),
		users:        make(map[string]model.User),
		accountLocks: newKeyLocks(),
	}
}

func (s *memoryStore) SaveConfig(_ context.Context, cfg *model.LedgerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return ErrConfigExists
	}
	stored := *cfg
	s.config = &stored
	return nil
}

func (s *memoryStore) LoadConfig(_ context.Context) (*model.LedgerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, nil
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *memoryStore) GetAccount(_ context.Context, address string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[address]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *memoryStore) UpdateAccount(ctx context.Context, address string, fn func(acc *model.Account) error) error {
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

	s.mu.Lock()
	s.accounts[address] = *acc
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Login]; exists {
		return ErrUserExists
	}
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	s.users[user.Login] = *user
	return nil
}

func (s *memoryStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[login]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *memoryStore) Close() error { return nil }
