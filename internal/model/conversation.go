// Package model defines data structures shared by the chatdesk controller.
package model

import (
	"time"
)

// Conversation represents a server-owned conversation as listed by the backend.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListConversationsResponse is the backend reply for a conversation page.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}

// RenameConversationRequest is the request to retitle a conversation.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// GenerateTitleRequest carries the user turns a title is derived from.
type GenerateTitleRequest struct {
	UserInputs []string `json:"user_inputs"`
}

// GenerateTitleResponse is the generated title.
type GenerateTitleResponse struct {
	Title string `json:"title"`
}

// ChatModel is one selectable generation model.
type ChatModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// ListModelsResponse is the backend reply for the model catalogue.
type ListModelsResponse struct {
	Models []ChatModel `json:"models"`
}

// FindConversation returns the conversation with id, if listed.
func FindConversation(convs []Conversation, id string) (Conversation, bool) {
	for _, c := range convs {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}
