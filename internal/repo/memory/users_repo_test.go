package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, r *UsersRepo, email string, at time.Time) user.User {
	t.Helper()

	u, err := r.Create(context.Background(), user.New("Sam", email, "hash", user.RoleUser, at))
	require.NoError(t, err)
	return u
}

func TestUsersRepo_CreateEnforcesUniqueEmail(t *testing.T) {
	r := NewUsersRepo()
	seed(t, r, "sam@example.com", time.Now())

	_, err := r.Create(context.Background(), user.New("Other", "SAM@example.com", "hash", user.RoleUser, time.Now()))
	assert.ErrorIs(t, err, user.ErrEmailTaken)

	got, err := r.FindByEmail(context.Background(), " Sam@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", got.Email)
}

func TestUsersRepo_SaveKeepsLoginState(t *testing.T) {
	r := NewUsersRepo()
	ctx := context.Background()
	u := seed(t, r, "sam@example.com", time.Now())

	_, err := r.UpdateLoginState(ctx, u.ID, func(s user.LoginState) user.LoginState {
		s.LoginAttempts = 3
		return s
	})
	require.NoError(t, err)

	// stale copy with zero attempts must not clobber the counter
	u.Name = "Samantha"
	saved, err := r.Save(ctx, u)
	require.NoError(t, err)

	assert.Equal(t, "Samantha", saved.Name)
	assert.Equal(t, 3, saved.LoginAttempts)
}

func TestUsersRepo_SaveEmailConflict(t *testing.T) {
	r := NewUsersRepo()
	ctx := context.Background()
	seed(t, r, "a@example.com", time.Now())
	b := seed(t, r, "b@example.com", time.Now())

	b.Email = "a@example.com"
	_, err := r.Save(ctx, b)
	assert.ErrorIs(t, err, user.ErrEmailTaken)

	b.Email = "c@example.com"
	_, err = r.Save(ctx, b)
	require.NoError(t, err)

	_, err = r.FindByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUsersRepo_UpdateLoginStateIsAtomic(t *testing.T) {
	r := NewUsersRepo()
	u := seed(t, r, "sam@example.com", time.Now())

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := r.UpdateLoginState(context.Background(), u.ID, func(s user.LoginState) user.LoginState {
				s.LoginAttempts++
				return s
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := r.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.LoginAttempts)
}

func TestUsersRepo_DeleteAndList(t *testing.T) {
	r := NewUsersRepo()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		ids = append(ids, seed(t, r, email, base.Add(time.Duration(i)*time.Minute)).ID)
	}

	page, err := r.List(ctx, user.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)

	next, err := r.List(ctx, user.ListFilter{Limit: 2, AfterCreatedAt: page[1].CreatedAt, AfterID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, ids[2], next[0].ID)

	require.NoError(t, r.Delete(ctx, ids[1]))
	assert.ErrorIs(t, r.Delete(ctx, ids[1]), user.ErrNotFound)

	_, err = r.FindByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUsersRepo_ReturnsCopies(t *testing.T) {
	r := NewUsersRepo()
	u := seed(t, r, "sam@example.com", time.Now())

	u.Permissions[0] = user.PermDelete

	got, err := r.FindByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []user.Permission{user.PermRead}, got.Permissions)
}
