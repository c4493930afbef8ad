package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, password_hash, role, is_admin, permissions, is_active,
	login_attempts, lock_until, last_login,
	ship_address, ship_city, ship_postal_code, ship_country,
	created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.find_by_email", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`,
			user.NormalizeEmail(email),
		))
		return err
	})

	return u, err
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.find_by_id", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})

	return u, err
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	u.Email = user.NormalizeEmail(u.Email)

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.IsAdmin, permStrings(u.Permissions), u.IsActive,
			u.LoginAttempts, u.LockUntil, u.LastLogin,
			u.ShippingAddress.Address, u.ShippingAddress.City, u.ShippingAddress.PostalCode, u.ShippingAddress.Country,
			u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return u, nil
}

// Save writes profile and role fields. Login counters are never touched here.
func (r *UsersRepo) Save(ctx context.Context, u user.User) (user.User, error) {
	var saved user.User
	var err error

	err = r.observe("users.save", func() error {
		saved, err = scanUser(r.pool.QueryRow(ctx, `
		UPDATE users
		SET name = $2,
		    email = $3,
		    password_hash = $4,
		    role = $5,
		    is_admin = $6,
		    permissions = $7,
		    is_active = $8,
		    ship_address = $9,
		    ship_city = $10,
		    ship_postal_code = $11,
		    ship_country = $12,
		    updated_at = $13
		WHERE id = $1
		RETURNING `+userColumns,
			u.ID, u.Name, user.NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), u.IsAdmin, permStrings(u.Permissions), u.IsActive,
			u.ShippingAddress.Address, u.ShippingAddress.City, u.ShippingAddress.PostalCode, u.ShippingAddress.Country,
			u.UpdatedAt,
		))
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return saved, nil
}

// UpdateLoginState locks the row so concurrent failed logins serialize and
// none of them is lost.
func (r *UsersRepo) UpdateLoginState(ctx context.Context, id string, fn func(user.LoginState) user.LoginState) (user.User, error) {
	var updated user.User

	err := r.observe("users.update_login_state", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		u, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`,
			id,
		))
		if err != nil {
			return err
		}

		next := fn(u.LoginState())

		_, err = tx.Exec(ctx, `
		UPDATE users
		SET login_attempts = $2,
		    lock_until = $3,
		    last_login = $4
		WHERE id = $1
		`, id, next.LoginAttempts, next.LockUntil, next.LastLogin)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		u.SetLoginState(next)
		updated = u
		return nil
	})

	if err != nil {
		return user.User{}, err
	}

	return updated, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	var err error

	err = r.observe("users.delete", func() error {
		tag, err = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + userColumns + ` FROM users`
	args := []interface{}{}

	if !filter.AfterCreatedAt.IsZero() {
		query += ` WHERE (created_at, id) > ($1, $2)`
		args = append(args, filter.AfterCreatedAt, filter.AfterID)
	}

	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var out []user.User

	err := r.observe("users.list", func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]user.User, 0, limit)
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	var role string
	var perms []string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.IsAdmin,
		&perms,
		&u.IsActive,
		&u.LoginAttempts,
		&u.LockUntil,
		&u.LastLogin,
		&u.ShippingAddress.Address,
		&u.ShippingAddress.City,
		&u.ShippingAddress.PostalCode,
		&u.ShippingAddress.Country,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	u.Role = user.Role(role)
	u.Permissions = make([]user.Permission, 0, len(perms))
	for _, p := range perms {
		u.Permissions = append(u.Permissions, user.Permission(p))
	}

	return u, nil
}

func permStrings(perms []user.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
