package interfaces

import (
	"context"

	"github.com/qqmikey/datachat/pkg/model"
)

// Repository defines the persistence surface for conversations, turns, and
// the append-only execution audit log.
type Repository interface {
	// SaveConversation inserts or replaces a conversation.
	SaveConversation(ctx context.Context, conv *model.Conversation) error

	// GetConversation retrieves a conversation by ID. Returns
	// model.ErrConversationNotFound when it does not exist.
	GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error)

	// ListConversations retrieves the conversations of one owner, most
	// recently updated first.
	ListConversations(ctx context.Context, owner string) ([]*model.Conversation, error)

	// DeleteConversation removes a conversation together with its turns and
	// execution records.
	DeleteConversation(ctx context.Context, id model.ConversationID) error

	// SaveTurn appends a turn to a conversation.
	SaveTurn(ctx context.Context, turn *model.Turn) error

	// ListTurns retrieves the latest limit turns of a conversation in
	// chronological order. limit <= 0 means all turns.
	ListTurns(ctx context.Context, id model.ConversationID, limit int) ([]*model.Turn, error)

	// SaveRecord appends an execution record to the audit log. Records are
	// never updated or deleted by application code.
	SaveRecord(ctx context.Context, record *model.ExecutionRecord) error

	// ListRecords retrieves the execution records of a conversation in
	// insertion order.
	ListRecords(ctx context.Context, id model.ConversationID) ([]*model.ExecutionRecord, error)
}
