package account

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parlorsh/parlor/internal/config"
	"github.com/parlorsh/parlor/internal/logging"
	"github.com/rs/zerolog"
)

// Store is the in-memory registry of configured accounts, durable via
// state/accounts.toml. Accounts are created here and handed to the Sync
// Engine for their operational lifetime.
type Store struct {
	mu   sync.RWMutex
	path string
	byID map[string]Account
	log  zerolog.Logger
}

// NewStore loads accounts.toml from path (creating an empty set if absent).
func NewStore(path string) (*Store, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path: path,
		byID: make(map[string]Account, len(f.Accounts)),
		log:  logging.WithComponent("account-store"),
	}
	for _, af := range f.Accounts {
		s.byID[af.ID] = toAccount(af)
	}
	return s, nil
}

// List returns a snapshot of all configured accounts, order unspecified.
func (s *Store) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out
}

// Get returns the account by id, or false if it does not exist.
func (s *Store) Get(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

// Create assigns an id (if absent) and persists a new account.
func (s *Store) Create(a Account) (Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.byID[a.ID] = a
	s.mu.Unlock()
	if err := s.flush(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// Replace swaps the entire Account record for a.ID with the new value;
// there is no partial-field update.
func (s *Store) Replace(a Account) error {
	s.mu.Lock()
	if _, ok := s.byID[a.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("account %s not found", a.ID)
	}
	s.byID[a.ID] = a
	s.mu.Unlock()
	return s.flush()
}

// Remove deletes an account from configuration. Cascading deletion of its
// folders and messages is the caller's (Sync Engine's) responsibility.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return s.flush()
}

// Count returns the number of configured accounts, used to size the
// database's idle connection pool (database.DB.UpdateIdleConns).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) flush() error {
	s.mu.RLock()
	f := &config.File{Accounts: make([]config.AccountFile, 0, len(s.byID))}
	for _, a := range s.byID {
		f.Accounts = append(f.Accounts, fromAccount(a))
	}
	s.mu.RUnlock()
	return config.Save(s.path, f)
}
