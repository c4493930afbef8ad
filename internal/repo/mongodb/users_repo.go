package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// backoff between revision conflicts, doubling up to the cap
const (
	casBackoffMin = time.Millisecond
	casBackoffMax = 50 * time.Millisecond
)

type Config struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string
	Collection string
}

type UsersRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	prom       *observability.Prom
}

type userDoc struct {
	ID              string               `bson:"_id"`
	Name            string               `bson:"name"`
	Email           string               `bson:"email"`
	PasswordHash    string               `bson:"password_hash"`
	Role            string               `bson:"role"`
	IsAdmin         bool                 `bson:"is_admin"`
	Permissions     []string             `bson:"permissions"`
	IsActive        bool                 `bson:"is_active"`
	LoginAttempts   int                  `bson:"login_attempts"`
	LockUntil       *time.Time           `bson:"lock_until"`
	LastLogin       *time.Time           `bson:"last_login"`
	ShippingAddress user.ShippingAddress `bson:"shipping_address"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
	// bumped on every login-state write; guards UpdateLoginState
	Rev int64 `bson:"rev"`
}

// NewUsersRepo connects, pings and ensures the unique email index.
func NewUsersRepo(ctx context.Context, cfg Config, prom *observability.Prom) (*UsersRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "ecommerce"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	repo := &UsersRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		prom:       prom,
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return repo, nil
}

func (r *UsersRepo) ensureIndexes(ctx context.Context) error {
	emailIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	}
	pageIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("created_at_id"),
	}
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{emailIdx, pageIdx})
	return err
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (user.User, error) {
	doc, err := r.findOne(ctx, "users.find_by_email", bson.M{"email": user.NormalizeEmail(email)})
	if err != nil {
		return user.User{}, err
	}
	return doc.toUser(), nil
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (user.User, error) {
	doc, err := r.findOne(ctx, "users.find_by_id", bson.M{"_id": id})
	if err != nil {
		return user.User{}, err
	}
	return doc.toUser(), nil
}

func (r *UsersRepo) findOne(ctx context.Context, op string, filter bson.M) (userDoc, error) {
	var doc userDoc

	err := r.observe(op, func() error {
		return r.collection.FindOne(ctx, filter).Decode(&doc)
	})

	if errors.Is(err, mongo.ErrNoDocuments) {
		return userDoc{}, user.ErrNotFound
	}
	if err != nil {
		return userDoc{}, err
	}
	return doc, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	doc := fromUser(u)

	err := r.observe("users.create", func() error {
		_, err := r.collection.InsertOne(ctx, doc)
		return err
	})

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return doc.toUser(), nil
}

// Save sets profile and role fields only; login counters are left alone.
func (r *UsersRepo) Save(ctx context.Context, u user.User) (user.User, error) {
	doc := fromUser(u)

	update := bson.M{"$set": bson.M{
		"name":             doc.Name,
		"email":            doc.Email,
		"password_hash":    doc.PasswordHash,
		"role":             doc.Role,
		"is_admin":         doc.IsAdmin,
		"permissions":      doc.Permissions,
		"is_active":        doc.IsActive,
		"shipping_address": doc.ShippingAddress,
		"updated_at":       doc.UpdatedAt,
	}}

	var saved userDoc

	err := r.observe("users.save", func() error {
		return r.collection.FindOneAndUpdate(ctx, bson.M{"_id": doc.ID}, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&saved)
	})

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return user.User{}, user.ErrNotFound
	case err != nil && mongo.IsDuplicateKeyError(err):
		return user.User{}, user.ErrEmailTaken
	case err != nil:
		return user.User{}, err
	}

	return saved.toUser(), nil
}

// UpdateLoginState is an optimistic read-apply-write keyed on rev. A lost race
// re-reads and re-applies fn until it wins or ctx ends, so every concurrent
// failure is counted.
func (r *UsersRepo) UpdateLoginState(ctx context.Context, id string, fn func(user.LoginState) user.LoginState) (user.User, error) {
	var out user.User

	err := retryOnConflict(ctx, func() (bool, error) {
		doc, err := r.findOne(ctx, "users.find_by_id", bson.M{"_id": id})
		if err != nil {
			return false, err
		}

		u := doc.toUser()
		next := fn(u.LoginState())

		var res *mongo.UpdateResult
		err = r.observe("users.update_login_state", func() error {
			var err error
			res, err = r.collection.UpdateOne(ctx,
				bson.M{"_id": id, "rev": doc.Rev},
				bson.M{
					"$set": bson.M{
						"login_attempts": next.LoginAttempts,
						"lock_until":     next.LockUntil,
						"last_login":     next.LastLogin,
					},
					"$inc": bson.M{"rev": 1},
				},
			)
			return err
		})
		if err != nil {
			return false, err
		}
		if res.MatchedCount != 1 {
			return false, nil
		}

		u.SetLoginState(next)
		out = u
		return true, nil
	})

	return out, err
}

// retryOnConflict calls attempt until it reports done, returns an error, or
// ctx ends. Conflicts back off exponentially.
func retryOnConflict(ctx context.Context, attempt func() (done bool, err error)) error {
	wait := casBackoffMin

	for {
		done, err := attempt()
		if err != nil || done {
			return err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		if wait < casBackoffMax {
			wait = min(wait*2, casBackoffMax)
		}
	}
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	var res *mongo.DeleteResult

	err := r.observe("users.delete", func() error {
		var err error
		res, err = r.collection.DeleteOne(ctx, bson.M{"_id": id})
		return err
	})

	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := bson.M{}
	if !filter.AfterCreatedAt.IsZero() {
		query = bson.M{"$or": bson.A{
			bson.M{"created_at": bson.M{"$gt": filter.AfterCreatedAt}},
			bson.M{"created_at": filter.AfterCreatedAt, "_id": bson.M{"$gt": filter.AfterID}},
		}}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	var docs []userDoc

	err := r.observe("users.list", func() error {
		cur, err := r.collection.Find(ctx, query, opts)
		if err != nil {
			return err
		}
		return cur.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	out := make([]user.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toUser())
	}
	return out, nil
}

func fromUser(u user.User) userDoc {
	perms := make([]string, 0, len(u.Permissions))
	for _, p := range u.Permissions {
		perms = append(perms, string(p))
	}

	return userDoc{
		ID:              u.ID,
		Name:            u.Name,
		Email:           user.NormalizeEmail(u.Email),
		PasswordHash:    u.PasswordHash,
		Role:            string(u.Role),
		IsAdmin:         u.IsAdmin,
		Permissions:     perms,
		IsActive:        u.IsActive,
		LoginAttempts:   u.LoginAttempts,
		LockUntil:       u.LockUntil,
		LastLogin:       u.LastLogin,
		ShippingAddress: u.ShippingAddress,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func (d userDoc) toUser() user.User {
	perms := make([]user.Permission, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		perms = append(perms, user.Permission(p))
	}

	return user.User{
		ID:              d.ID,
		Name:            d.Name,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Role:            user.Role(d.Role),
		IsAdmin:         d.IsAdmin,
		Permissions:     perms,
		IsActive:        d.IsActive,
		LoginAttempts:   d.LoginAttempts,
		LockUntil:       d.LockUntil,
		LastLogin:       d.LastLogin,
		ShippingAddress: d.ShippingAddress,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
