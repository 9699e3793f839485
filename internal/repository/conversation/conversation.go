package conversation

import (
	"context"

	"github.com/Taichi-iskw/voxrefine/internal/model"
)

// Repository defines operations for Conversation persistence
type Repository interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ContextReader
}

// ContextReader builds the text context handed to refinement
type ContextReader interface {
	// ContextFor never fails; read errors produce an empty context.
	ContextFor(ctx context.Context, conversationID string) string
}
