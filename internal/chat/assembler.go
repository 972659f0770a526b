package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lukesavage/convohub/internal/domain/conversation"
	"github.com/lukesavage/convohub/internal/domain/user"
	"github.com/lukesavage/convohub/internal/llm"
	mongostore "github.com/lukesavage/convohub/internal/store/mongo"
)

// ErrUserNotFound means the token's user id no longer resolves to a user.
var ErrUserNotFound = errors.New("user not found")

type UserStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	UpdateSystemRole(ctx context.Context, id, systemRole string) error
}

type TurnStore interface {
	History(ctx context.Context, userID string) ([]conversation.Turn, error)
	AppendExchange(ctx context.Context, userID, userMsg, assistantMsg string) error
}

type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Assembler builds the ordered message sequence for the completion service
// and appends the resulting turns. History is replayed in full on every
// call; persisted history only ever reflects exchanges the upstream call
// actually acknowledged.
type Assembler struct {
	users  UserStore
	turns  TurnStore
	client Completer
	log    *slog.Logger
}

func NewAssembler(users UserStore, turns TurnStore, client Completer, log *slog.Logger) *Assembler {
	return &Assembler{
		users:  users,
		turns:  turns,
		client: client,
		log:    log,
	}
}

// Converse handles one chat turn. When systemRole is non-empty it is
// persisted onto the user first, so it applies to this turn and every
// later one.
func (a *Assembler) Converse(ctx context.Context, userID, message, systemRole string) (string, error) {
	u, err := a.users.GetByID(ctx, userID)

	if err != nil {
		if errors.Is(err, mongostore.ErrUserNotFound) {
			return "", ErrUserNotFound
		}

		return "", fmt.Errorf("load user: %w", err)
	}

	if systemRole != "" {
		if err := a.users.UpdateSystemRole(ctx, userID, systemRole); err != nil {
			return "", fmt.Errorf("update system role: %w", err)
		}

		u.SystemRole = systemRole
	}

	history, err := a.turns.History(ctx, userID)

	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	persona := u.SystemRole

	if persona == "" {
		persona = user.DefaultSystemRole
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: string(conversation.RoleSystem), Content: persona})

	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	// the inbound turn goes upstream before it is persisted
	messages = append(messages, llm.Message{Role: string(conversation.RoleUser), Content: message})

	reply, err := a.client.Complete(ctx, messages)

	if err != nil {
		// nothing persisted: history must never contain an exchange the
		// upstream call did not acknowledge
		return "", err
	}

	if err := a.turns.AppendExchange(ctx, userID, message, reply); err != nil {
		a.log.Error("persisting exchange failed after successful completion", "userId", userID, "err", err)
		return "", fmt.Errorf("persist exchange: %w", err)
	}

	return reply, nil
}
