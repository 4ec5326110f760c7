// Package story saves finalized assistant replies as stories.
package story

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

var (
	// ErrDuplicate is returned when a story with the same content exists.
	ErrDuplicate = errors.New("story with identical content already saved")
	// ErrNotSavable is returned for messages that cannot become stories.
	ErrNotSavable = errors.New("message cannot be saved as a story")
)

// pendingSave marks a hash reserved by a save that has not finished.
const pendingSave = ""

// Store persists stories.
type Store interface {
	ListStories(ctx context.Context, guid string) ([]model.Story, error)
	CreateStory(ctx context.Context, req *model.CreateStoryRequest) (*model.Story, error)
	DeleteStory(ctx context.Context, id string) error
}

// Saver checks the content-hash guard before persisting a story.
type Saver struct {
	store  Store
	guid   string
	logger *logger.Logger

	mu     sync.Mutex
	hashes map[string]string
	loaded bool
}

// NewSaver creates a saver for the stories of guid.
func NewSaver(store Store, guid string, log *logger.Logger) *Saver {
	return &Saver{
		store:  store,
		guid:   guid,
		logger: log,
		hashes: make(map[string]string),
	}
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Save persists msg under title. Only finalized assistant replies with a
// document id are accepted.
func (s *Saver) Save(ctx context.Context, msg model.Message, title string) (*model.Story, error) {
	if !msg.CanSave() {
		return nil, ErrNotSavable
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("save story: empty title")
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	hash := ContentHash(msg.Content)
	s.mu.Lock()
	existing, dup := s.hashes[hash]
	if !dup {
		// Reserve the hash so a concurrent save of the same content fails
		// the guard while this one is in flight.
		s.hashes[hash] = pendingSave
	}
	s.mu.Unlock()
	if dup {
		if existing == pendingSave {
			return nil, fmt.Errorf("%w: save in progress", ErrDuplicate)
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, existing)
	}

	story, err := s.store.CreateStory(ctx, &model.CreateStoryRequest{
		Guid:        s.guid,
		DocumentID:  *msg.DocumentID,
		Title:       title,
		Content:     msg.Content,
		ContentHash: hash,
	})

	s.mu.Lock()
	if err != nil {
		delete(s.hashes, hash)
	} else {
		s.hashes[hash] = story.ID
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to save story: %w", err)
	}

	s.logger.Info("story saved",
		zap.String("story_id", story.ID),
		zap.String("document_id", story.DocumentID),
	)
	return story, nil
}

// List returns the saved stories.
func (s *Saver) List(ctx context.Context) ([]model.Story, error) {
	stories, err := s.store.ListStories(ctx, s.guid)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return stories, nil
}

// Delete removes a story and drops it from the guard.
func (s *Saver) Delete(ctx context.Context, storyID string) error {
	if err := s.store.DeleteStory(ctx, storyID); err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	s.Forget(storyID)
	return nil
}

// Forget drops a deleted story from the guard.
func (s *Saver) Forget(storyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, id := range s.hashes {
		if id == storyID {
			delete(s.hashes, hash)
		}
	}
}

// load seeds the guard from the stories already saved.
func (s *Saver) load(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}

	stories, err := s.store.ListStories(ctx, s.guid)
	if err != nil {
		return fmt.Errorf("failed to load saved stories: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stories {
		hash := st.ContentHash
		if hash == "" && st.Content != "" {
			hash = ContentHash(st.Content)
		}
		if hash != "" {
			s.hashes[hash] = st.ID
		}
	}
	s.loaded = true
	return nil
}
