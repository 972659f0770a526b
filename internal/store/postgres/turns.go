package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukesavage/convohub/internal/domain/conversation"
)

type TurnsRepo struct {
	pool *pgxpool.Pool
}

func NewTurnsRepo(pool *pgxpool.Pool) *TurnsRepo {
	return &TurnsRepo{
		pool: pool,
	}
}

// History returns every persisted turn for a user in creation order.
func (r *TurnsRepo) History(ctx context.Context, userID string) ([]conversation.Turn, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, role, content, created_at
		 FROM conversation_turns
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]conversation.Turn, 0)

	for rows.Next() {
		var t conversation.Turn

		if err := rows.Scan(&t.ID, &t.UserID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, rows.Err()
}

// AppendExchange persists the user turn and the assistant turn in one
// transaction, user first, so replay order matches what actually happened.
func (r *TurnsRepo) AppendExchange(ctx context.Context, userID, userMsg, assistantMsg string) error {
	tx, err := r.pool.Begin(ctx)

	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		userID, conversation.RoleUser, userMsg, now,
	)

	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		userID, conversation.RoleAssistant, assistantMsg, now,
	)

	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
