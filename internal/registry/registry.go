package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lukesavage/convohub/internal/domain/user"
	"github.com/lukesavage/convohub/internal/mirrorq"
	"github.com/lukesavage/convohub/internal/observability"
	"github.com/lukesavage/convohub/internal/security"
	mongostore "github.com/lukesavage/convohub/internal/store/mongo"
)

var (
	ErrDuplicateUser      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// PrimaryStore is the authoritative user store. Authentication decisions
// are made against it and nothing else.
type PrimaryStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, name, email, passwordHash string) (user.User, error)
}

// MirrorStore is the best-effort relational copy. It is consulted for the
// uniqueness check and out-of-band listing only.
type MirrorStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, name, email, passwordHash string) error
	List(ctx context.Context) ([]user.MirrorRecord, error)
}

type TokenIssuer interface {
	GenerateToken(userID, email string) (string, error)
}

type RetryQueue interface {
	Enqueue(ctx context.Context, p mirrorq.Payload) error
}

// Coordinator orchestrates uniqueness checks and writes across both user
// stores. The two stores are not wrapped in a transaction; the primary's
// unique email index is the final arbiter under concurrent registrations.
type Coordinator struct {
	primary PrimaryStore
	mirror  MirrorStore
	jwt     TokenIssuer
	queue   RetryQueue
	log     *slog.Logger
	metrics *observability.Prom
}

func NewCoordinator(primary PrimaryStore, mirror MirrorStore, jwt TokenIssuer, queue RetryQueue, log *slog.Logger, metrics *observability.Prom) *Coordinator {
	return &Coordinator{
		primary: primary,
		mirror:  mirror,
		jwt:     jwt,
		queue:   queue,
		log:     log,
		metrics: metrics,
	}
}

// Register creates a user in both stores and returns a bearer token.
// The primary write is authoritative; a failed mirror write is surfaced to
// the operator (log + metric + retry queue) but never fails the caller,
// because authentication correctness depends only on the primary.
func (c *Coordinator) Register(ctx context.Context, name, email, password string) (string, error) {
	_, err := c.primary.GetByEmail(ctx, email)

	if err == nil {
		return "", ErrDuplicateUser
	}

	if !errors.Is(err, mongostore.ErrUserNotFound) {
		return "", fmt.Errorf("primary uniqueness check: %w", err)
	}

	exists, err := c.mirror.EmailExists(ctx, email)

	if err != nil {
		return "", fmt.Errorf("mirror uniqueness check: %w", err)
	}

	if exists {
		return "", ErrDuplicateUser
	}

	hash, err := security.HashPassword(password)

	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u, err := c.primary.Create(ctx, name, email, hash)

	if err != nil {
		if errors.Is(err, mongostore.ErrEmailTaken) {
			// lost the race window between check and write
			return "", ErrDuplicateUser
		}

		return "", fmt.Errorf("primary write: %w", err)
	}

	if err := c.mirror.Insert(ctx, name, email, hash); err != nil {
		c.log.Error("mirror write failed, registration still committed", "email", email, "err", err)

		if c.metrics != nil {
			c.metrics.MirrorWriteFailures.Inc()
		}

		if c.queue != nil {
			qerr := c.queue.Enqueue(ctx, mirrorq.Payload{
				Name:         name,
				Email:        email,
				PasswordHash: hash,
			})

			if qerr != nil {
				c.log.Error("mirror retry enqueue failed", "email", email, "err", qerr)
			}
		}
	}

	token, err := c.jwt.GenerateToken(u.ID, u.Email)

	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	return token, nil
}

// Login authenticates against the primary store only. A missing user and a
// wrong password come back as the same error so callers cannot enumerate
// registered emails.
func (c *Coordinator) Login(ctx context.Context, email, password string) (string, error) {
	u, err := c.primary.GetByEmail(ctx, email)

	if err != nil {
		if errors.Is(err, mongostore.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}

		return "", fmt.Errorf("primary lookup: %w", err)
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := c.jwt.GenerateToken(u.ID, u.Email)

	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	return token, nil
}

// Lookup is always served from the primary store.
func (c *Coordinator) Lookup(ctx context.Context, email string) (user.User, error) {
	return c.primary.GetByEmail(ctx, email)
}

// List serves the out-of-band user listing from the mirror.
func (c *Coordinator) List(ctx context.Context) ([]user.MirrorRecord, error) {
	return c.mirror.List(ctx)
}
