// Package auth holds registered API users and the HTTP basic-auth
// middleware that checks them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ShayCichocki/roundtable/internal/state"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong
	// password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("auth: user already exists")
)

// UserRepository stores users and checks their passwords.
type UserRepository interface {
	Create(ctx context.Context, username, password string) error
	Verify(ctx context.Context, username, password string) error
}

// Option configures a repository.
type Option func(*hasher)

// WithCost sets the bcrypt cost of new hashes.
func WithCost(cost int) Option {
	return func(h *hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.cost = cost
		}
	}
}

type hasher struct {
	cost int
}

func newHasher(opts []Option) hasher {
	h := hasher{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h hasher) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func check(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// MemoryRepository keeps users in memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  map[string]string
	hasher hasher
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(opts ...Option) *MemoryRepository {
	return &MemoryRepository{
		users:  make(map[string]string),
		hasher: newHasher(opts),
	}
}

func (r *MemoryRepository) Create(_ context.Context, username, password string) error {
	hash, err := r.hasher.hash(password)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[username]; ok {
		return ErrUserExists
	}
	r.users[username] = hash
	return nil
}

func (r *MemoryRepository) Verify(_ context.Context, username, password string) error {
	r.mu.RLock()
	hash, ok := r.users[username]
	r.mu.RUnlock()
	if !ok {
		return ErrInvalidCredentials
	}
	return check(hash, password)
}

// StoreRepository keeps users in the state database.
type StoreRepository struct {
	store  state.UserStore
	hasher hasher
}

// NewStoreRepository creates a repository backed by store.
func NewStoreRepository(store state.UserStore, opts ...Option) *StoreRepository {
	return &StoreRepository{store: store, hasher: newHasher(opts)}
}

func (r *StoreRepository) Create(_ context.Context, username, password string) error {
	hash, err := r.hasher.hash(password)
	if err != nil {
		return err
	}
	err = r.store.CreateUser(&state.User{Username: username, PasswordHash: hash})
	if errors.Is(err, state.ErrUserExists) {
		return ErrUserExists
	}
	return err
}

func (r *StoreRepository) Verify(_ context.Context, username, password string) error {
	u, err := r.store.GetUser(username)
	if errors.Is(err, state.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	return check(u.PasswordHash, password)
}

var (
	_ UserRepository = (*MemoryRepository)(nil)
	_ UserRepository = (*StoreRepository)(nil)
)
