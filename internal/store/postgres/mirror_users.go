package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukesavage/convohub/internal/domain/user"
)

const uniqueViolation = "23505"

type MirrorUsersRepo struct {
	pool *pgxpool.Pool
}

func NewMirrorUsersRepo(pool *pgxpool.Pool) *MirrorUsersRepo {
	return &MirrorUsersRepo{
		pool: pool,
	}
}

func (r *MirrorUsersRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool

	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mirror_users WHERE email = $1)`,
		email,
	).Scan(&exists)

	if err != nil {
		return false, err
	}

	return exists, nil
}

// Insert writes the mirrored copy of a user. A unique violation means the
// record is already mirrored, which counts as success so retries from the
// reconciler stay idempotent.
func (r *MirrorUsersRepo) Insert(ctx context.Context, name, email, passwordHash string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO mirror_users (name, email, password_hash) VALUES ($1, $2, $3)`,
		name, email, passwordHash,
	)

	if err != nil {
		var pgErr *pgconn.PgError

		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}

		return err
	}

	return nil
}

func (r *MirrorUsersRepo) List(ctx context.Context) ([]user.MirrorRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, email FROM mirror_users ORDER BY id ASC`,
	)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]user.MirrorRecord, 0)

	for rows.Next() {
		var rec user.MirrorRecord

		if err := rows.Scan(&rec.Name, &rec.Email); err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}
