package model

import (
	"time"
)

// Story is an assistant reply saved as a standalone artifact.
type Story struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Guid        string    `json:"guid,omitempty"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateStoryRequest is the request to save a story.
type CreateStoryRequest struct {
	Guid        string `json:"guid"`
	DocumentID  string `json:"document_id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
}

// StoryListResponse is the backend reply for saved stories.
type StoryListResponse struct {
	Stories []Story `json:"stories"`
	Total   int     `json:"total"`
}
