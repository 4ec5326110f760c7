package handler

import (
	"context"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
)

// Controller is the controller surface the handlers drive.
type Controller interface {
	Snapshot() model.Snapshot
	Subscribe() (<-chan model.Snapshot, func())

	SelectConversation(ctx context.Context, id string) error
	NewChat(ctx context.Context) (*model.Conversation, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	RefreshConversations(ctx context.Context) error
	AutoTitle(ctx context.Context, id string) (string, bool)

	LoadModels(ctx context.Context) error
	SelectModel(id string) error

	Start(ctx context.Context, text string) (<-chan error, error)
	LoadOlder(ctx context.Context) (*pagination.Page, error)
}
