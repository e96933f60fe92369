package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"userauth/internal/models"
)

// memoryUserRepository keeps accounts in process memory. It backs the
// "memory" database driver and the service tests.
type memoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		byID:    map[string]*models.User{},
		byEmail: map[string]string{},
		now:     time.Now,
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// проверка уникальности и вставка под одним локом
	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = user.Clone()
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

// update applies fn to the stored record under the write lock. fn reports
// whether the precondition held; if not, nothing is written.
func (r *memoryUserRepository) update(id string, fn func(u *models.User) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	next := cur.Clone()
	if !fn(next) {
		return ErrStale
	}
	next.UpdatedAt = r.now().UTC()
	r.byID[id] = next
	return nil
}

func (r *memoryUserRepository) SetOTP(_ context.Context, id, code string, expiry time.Time) error {
	return r.update(id, func(u *models.User) bool {
		if u.IsVerified {
			return false
		}
		u.SetOTP(code, expiry)
		return true
	})
}

func (r *memoryUserRepository) MarkVerified(_ context.Context, id, code string, at time.Time) error {
	return r.update(id, func(u *models.User) bool {
		if u.IsVerified || u.OTPCode == nil || *u.OTPCode != code {
			return false
		}
		if u.OTPExpiry == nil || !u.OTPExpiry.After(at) {
			return false
		}
		u.MarkVerified(at)
		return true
	})
}

func (r *memoryUserRepository) UpdatePassword(_ context.Context, id, oldHash, newHash string) error {
	return r.update(id, func(u *models.User) bool {
		if u.PasswordHash != oldHash {
			return false
		}
		u.PasswordHash = newHash
		return true
	})
}

func (r *memoryUserRepository) UpdateName(_ context.Context, id, name string) error {
	return r.update(id, func(u *models.User) bool {
		u.Name = name
		return true
	})
}

func (r *memoryUserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
	return nil
}

func (r *memoryUserRepository) Ping(context.Context) error { return nil }
