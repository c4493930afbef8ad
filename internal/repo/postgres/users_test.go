package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/storefront/internal/db"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/repo/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *postgres.UsersRepo {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `TRUNCATE users`)
	require.NoError(t, err)

	return postgres.NewUsersRepo(pool, nil)
}

func TestUsersRepo_Postgres(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	u, err := repo.Create(ctx, user.New("Sam", "sam@example.com", "hash", user.RoleModerator, now))
	require.NoError(t, err)

	_, err = repo.Create(ctx, user.New("Other", "SAM@example.com", "hash", user.RoleUser, now))
	assert.ErrorIs(t, err, user.ErrEmailTaken)

	got, err := repo.FindByEmail(ctx, "sam@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.RoleModerator, got.Role)
	assert.Equal(t, []user.Permission{user.PermRead, user.PermWrite, user.PermManageProducts}, got.Permissions)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.UpdateLoginState(ctx, u.ID, func(s user.LoginState) user.LoginState {
				s.LoginAttempts++
				return s
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got.ShippingAddress.City = "Lagos"
	saved, err := repo.Save(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Lagos", saved.ShippingAddress.City)
	assert.Equal(t, n, saved.LoginAttempts)

	second, err := repo.Create(ctx, user.New("B", "b@example.com", "hash", user.RoleUser, now.Add(time.Second)))
	require.NoError(t, err)

	page, err := repo.List(ctx, user.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)

	next, err := repo.List(ctx, user.ListFilter{Limit: 1, AfterCreatedAt: page[0].CreatedAt, AfterID: page[0].ID})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, second.ID, next[0].ID)

	require.NoError(t, repo.Delete(ctx, u.ID))
	_, err = repo.FindByID(ctx, u.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
}
