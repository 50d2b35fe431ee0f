package auth

import (
	"context"
	"strings"
	"sync"
)

// Directory looks up login-capable users.
type Directory interface {
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}

// MemoryDirectory is an in-process Directory, used by tests and single-node setups.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

// Put stores or replaces a user.
func (d *MemoryDirectory) Put(u User) error {
	if strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Email) == "" {
		return ErrInvalidInput
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.byEmail[email]; ok && owner != u.ID {
		return ErrAlreadyExists
	}
	u.Email = email
	d.byID[u.ID] = u
	d.byEmail[email] = u.ID
	return nil
}

func (d *MemoryDirectory) Find(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return d.byID[id], nil
}
