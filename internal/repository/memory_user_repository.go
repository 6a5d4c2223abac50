package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/issue-service/internal/domain"
)

// MemoryUserRepository keeps users and their balances in process memory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.User
	order []string
	now   func() time.Time
}

var _ UserRepository = (*MemoryUserRepository)(nil)

// NewMemoryUserRepository builds an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		items: make(map[string]*domain.User),
		now:   time.Now,
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if r.emailTaken(email, "") {
		return ErrDuplicateEmail
	}
	now := r.now()
	user.ID = uuid.NewString()
	user.Email = email
	user.RewardPoints = 0
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	r.items[user.ID] = &stored
	r.order = append(r.order, user.ID)
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[user.ID]
	if !ok {
		return ErrNotFound
	}
	email := strings.ToLower(user.Email)
	if r.emailTaken(email, user.ID) {
		return ErrDuplicateEmail
	}
	stored.Username = user.Username
	stored.Email = email
	stored.PasswordHash = user.PasswordHash
	stored.Role = user.Role
	stored.UpdatedAt = r.now()
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.items[id]
	if !ok {
		return nil, false, nil
	}
	user := *stored
	return &user, true, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.ToLower(email)
	for _, id := range r.order {
		if stored := r.items[id]; stored.Email == email {
			user := *stored
			return &user, true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (r *MemoryUserRepository) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked(), nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.items)), nil
}

func (r *MemoryUserRepository) CreditPoints(_ context.Context, id string, amount int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[id]
	if !ok {
		return false, nil
	}
	stored.RewardPoints += amount
	stored.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryUserRepository) TopByPoints(_ context.Context, n int) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := r.listLocked()
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].RewardPoints > users[j].RewardPoints
	})
	if n >= 0 && len(users) > n {
		users = users[:n]
	}
	return users, nil
}

func (r *MemoryUserRepository) listLocked() []domain.User {
	users := make([]domain.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, *r.items[id])
	}
	return users
}

func (r *MemoryUserRepository) emailTaken(email, exceptID string) bool {
	for id, stored := range r.items {
		if id != exceptID && stored.Email == email {
			return true
		}
	}
	return false
}
