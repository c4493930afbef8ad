package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/geocoder89/storefront/internal/domain/user"
)

type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User
	byEmail map[string]string // normalized email -> id
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return clone(r.items[id]), nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	return clone(u), nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	u.Email = user.NormalizeEmail(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[u.Email]; taken {
		return user.User{}, user.ErrEmailTaken
	}

	r.items[u.ID] = clone(u)
	r.byEmail[u.Email] = u.ID

	return clone(u), nil
}

// Save overwrites profile and role fields. Login state is left as stored.
func (r *UsersRepo) Save(ctx context.Context, u user.User) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	u.Email = user.NormalizeEmail(u.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[u.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if owner, taken := r.byEmail[u.Email]; taken && owner != u.ID {
		return user.User{}, user.ErrEmailTaken
	}

	u.SetLoginState(existing.LoginState())
	u.CreatedAt = existing.CreatedAt

	delete(r.byEmail, existing.Email)
	r.byEmail[u.Email] = u.ID
	r.items[u.ID] = clone(u)

	return clone(u), nil
}

func (r *UsersRepo) UpdateLoginState(ctx context.Context, id string, fn func(user.LoginState) user.LoginState) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	u.SetLoginState(fn(cloneState(u.LoginState())))
	r.items[id] = clone(u)

	return clone(u), nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	delete(r.items, id)
	delete(r.byEmail, u.Email)

	return nil
}

func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	all := make([]user.User, 0, len(r.items))
	for _, u := range r.items {
		all = append(all, clone(u))
	}
	r.mu.RUnlock()

	// stable ordering for pagination
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	out := make([]user.User, 0, filter.Limit)
	for _, u := range all {
		if !filter.AfterCreatedAt.IsZero() {
			if u.CreatedAt.Before(filter.AfterCreatedAt) {
				continue
			}
			if u.CreatedAt.Equal(filter.AfterCreatedAt) && u.ID <= filter.AfterID {
				continue
			}
		}

		out = append(out, u)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}

	return out, nil
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func clone(u user.User) user.User {
	if u.Permissions != nil {
		perms := make([]user.Permission, len(u.Permissions))
		copy(perms, u.Permissions)
		u.Permissions = perms
	}
	u.SetLoginState(cloneState(u.LoginState()))
	return u
}

func cloneState(s user.LoginState) user.LoginState {
	if s.LockUntil != nil {
		t := *s.LockUntil
		s.LockUntil = &t
	}
	if s.LastLogin != nil {
		t := *s.LastLogin
		s.LastLogin = &t
	}
	return s
}
