package analytics_transport

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentityStore persists the anonymous identifier between sessions.
// Load returns an empty string when nothing is stored.
type IdentityStore interface {
	Load() (string, error)
	Save(id string) error
	Clear() error
}

// MemoryIdentityStore keeps the identifier for the life of the process.
type MemoryIdentityStore struct {
	mu sync.Mutex
	id string
}

func (s *MemoryIdentityStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryIdentityStore) Save(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *MemoryIdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	return nil
}

// Identity owns the anonymous identifier of this session. Storage
// failures never block collection: the in-memory value is used.
type Identity struct {
	mu     sync.Mutex
	store  IdentityStore
	logger *zap.Logger
	id     string
}

// NewIdentity creates an Identity backed by store. A nil store keeps
// the identifier in memory only.
func NewIdentity(store IdentityStore, logger *zap.Logger) *Identity {
	if store == nil {
		store = &MemoryIdentityStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identity{store: store, logger: logger}
}

// AnonymousID returns the current identifier, creating and persisting
// a new one if none exists. created is true when a new identifier was
// minted by this call.
func (i *Identity) AnonymousID() (id string, created bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id, false
	}

	stored, err := i.store.Load()
	if err != nil {
		i.logger.Debug("Failed to load anonymous id", zap.Error(err))
	}
	if stored != "" {
		i.id = stored
		return i.id, false
	}

	i.id = uuid.NewString()
	if err := i.store.Save(i.id); err != nil {
		i.logger.Debug("Failed to persist anonymous id", zap.Error(err))
	}
	return i.id, true
}

// Current returns the identifier without creating one. It may be empty.
func (i *Identity) Current() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id
	}
	stored, err := i.store.Load()
	if err != nil {
		i.logger.Debug("Failed to load anonymous id", zap.Error(err))
	}
	return stored
}

// Reset forgets the identifier and clears it from the store.
func (i *Identity) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.id = ""
	if err := i.store.Clear(); err != nil {
		i.logger.Debug("Failed to clear anonymous id", zap.Error(err))
	}
}
