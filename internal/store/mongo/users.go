package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/lukesavage/convohub/internal/domain/user"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)

// userDoc is the collection shape; the _id stays an ObjectID inside the
// store and is exposed as its hex form on the domain type.
type userDoc struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Name         string        `bson:"name"`
	Email        string        `bson:"email"`
	PasswordHash string        `bson:"password_hash"`
	SystemRole   string        `bson:"system_role"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

type UsersRepo struct {
	col *mongo.Collection
}

func NewUsersRepo(client *mongo.Client, dbName string) *UsersRepo {
	return &UsersRepo{col: client.Database(dbName).Collection("users")}
}

// EnsureIndexes creates the unique email index. The index is the final
// arbiter for duplicate registrations racing past the read-time checks.
func (r *UsersRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return err
}

func (r *UsersRepo) Create(ctx context.Context, name, email, passwordHash string) (user.User, error) {
	now := time.Now().UTC()

	doc := userDoc{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		SystemRole:   user.DefaultSystemRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := r.col.InsertOne(ctx, doc)

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, ErrEmailTaken
		}

		return user.User{}, err
	}

	doc.ID = res.InsertedID.(bson.ObjectID)

	return doc.toDomain(), nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var doc userDoc

	err := r.col.FindOne(ctx, bson.M{"email": email}).Decode(&doc)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, ErrUserNotFound
		}

		return user.User{}, err
	}

	return doc.toDomain(), nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	oid, err := bson.ObjectIDFromHex(id)

	if err != nil {
		// a malformed id can never match a stored user
		return user.User{}, ErrUserNotFound
	}

	var doc userDoc

	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, ErrUserNotFound
		}

		return user.User{}, err
	}

	return doc.toDomain(), nil
}

func (r *UsersRepo) UpdateSystemRole(ctx context.Context, id, systemRole string) error {
	oid, err := bson.ObjectIDFromHex(id)

	if err != nil {
		return ErrUserNotFound
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{
			"system_role": systemRole,
			"updated_at":  time.Now().UTC(),
		}},
	)

	if err != nil {
		return err
	}

	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (d userDoc) toDomain() user.User {
	return user.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		SystemRole:   d.SystemRole,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
