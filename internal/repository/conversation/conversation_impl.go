package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/Taichi-iskw/voxrefine/internal/errors"
	"github.com/Taichi-iskw/voxrefine/internal/log"
	"github.com/Taichi-iskw/voxrefine/internal/model"
	"github.com/Taichi-iskw/voxrefine/internal/repository/common"
)

const (
	recentMessageLimit  = 3
	messagePreviewRunes = 100
)

// Pool interface for abstracting pgx connection pool
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conversationRepository implements Repository and ContextReader using PostgreSQL
type conversationRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &conversationRepository{
		pool: pool,
	}
}

// Create inserts a new conversation
func (r *conversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	sql := `INSERT INTO conversations (id, topic, created_at) VALUES ($1, $2, $3)`

	_, err := r.pool.Exec(ctx, sql, conversation.ID, conversation.Topic, conversation.CreatedAt)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to create conversation")
	}
	return nil
}

// GetByID retrieves a conversation by its ID
func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	sql := `SELECT id, topic, created_at FROM conversations WHERE id = $1`

	var conversation model.Conversation
	err := r.pool.QueryRow(ctx, sql, id).Scan(&conversation.ID, &conversation.Topic, &conversation.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "conversation not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get conversation")
	}
	return &conversation, nil
}

// ContextFor returns the conversation topic followed by the most recent confirmed
// user messages in chronological order
func (r *conversationRepository) ContextFor(ctx context.Context, conversationID string) string {
	conversation, err := r.GetByID(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation context")
		return ""
	}

	var b strings.Builder
	b.WriteString("Topic: " + conversation.Topic + "\n\n")

	messages, err := r.recentConfirmed(ctx, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to load conversation context")
		return ""
	}

	if len(messages) > 0 {
		b.WriteString("Recent messages:\n")
		for i := len(messages) - 1; i >= 0; i-- {
			b.WriteString("- " + preview(messages[i]) + "...\n")
		}
	}

	return b.String()
}

// recentConfirmed returns confirmed user message contents, newest first
func (r *conversationRepository) recentConfirmed(ctx context.Context, conversationID string) ([]string, error) {
	sql := `SELECT content FROM audio_units
		WHERE conversation_id = $1 AND role = 'user' AND user_confirmed AND content IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, sql, conversationID, recentMessageLimit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to get recent messages")
	}
	defer rows.Close()

	var messages []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, common.HandlePostgreSQLError(err, "failed to scan message")
		}
		messages = append(messages, content)
	}
	if err := rows.Err(); err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to iterate messages")
	}

	return messages, nil
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) > messagePreviewRunes {
		return string(runes[:messagePreviewRunes])
	}
	return s
}
