package story

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

type memStore struct {
	mu        sync.Mutex
	stories   []model.Story
	listCalls int
	next      int

	// createDelay holds CreateStory open so saves overlap.
	createDelay time.Duration
	createErr   error
}

func (m *memStore) ListStories(ctx context.Context, guid string) ([]model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]model.Story(nil), m.stories...), nil
}

func (m *memStore) CreateStory(ctx context.Context, req *model.CreateStoryRequest) (*model.Story, error) {
	time.Sleep(m.createDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.next++
	st := model.Story{
		ID:          fmt.Sprintf("story-%d", m.next),
		DocumentID:  req.DocumentID,
		Title:       req.Title,
		Content:     req.Content,
		ContentHash: req.ContentHash,
	}
	m.stories = append(m.stories, st)
	return &st, nil
}

func (m *memStore) DeleteStory(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, st := range m.stories {
		if st.ID == id {
			m.stories = append(m.stories[:i:i], m.stories[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("story %s not found", id)
}

func reply(content string) model.Message {
	id := "doc-1"
	return model.Message{Key: "local-2", Role: model.RoleAssistant, Content: content, DocumentID: &id}
}

func TestSaveRejectsDuplicates(t *testing.T) {
	store := &memStore{}
	s := NewSaver(store, "guid-1", logger.NewNop())
	ctx := context.Background()

	st, err := s.Save(ctx, reply("A fine answer"), " Keeper ")
	require.NoError(t, err)
	require.Equal(t, "Keeper", st.Title)
	require.Equal(t, ContentHash("A fine answer"), st.ContentHash)

	_, err = s.Save(ctx, reply("A fine answer"), "Again")
	require.ErrorIs(t, err, ErrDuplicate)
	require.Contains(t, err.Error(), st.ID)
	require.Len(t, store.stories, 1)
	require.Equal(t, 1, store.listCalls)
}

func TestSaveSeedsGuardFromExistingStories(t *testing.T) {
	store := &memStore{stories: []model.Story{{ID: "old", Content: "Saved before"}}}
	s := NewSaver(store, "guid-1", logger.NewNop())

	_, err := s.Save(context.Background(), reply("Saved before"), "Title")
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestSaveRejectsUnsavableMessages(t *testing.T) {
	s := NewSaver(&memStore{}, "guid-1", logger.NewNop())
	ctx := context.Background()

	streaming := reply("partial")
	streaming.Streaming = true
	_, err := s.Save(ctx, streaming, "Title")
	require.ErrorIs(t, err, ErrNotSavable)

	user := reply("question")
	user.Role = model.RoleUser
	_, err = s.Save(ctx, user, "Title")
	require.ErrorIs(t, err, ErrNotSavable)

	noID := model.Message{Role: model.RoleAssistant, Content: "no id yet"}
	_, err = s.Save(ctx, noID, "Title")
	require.ErrorIs(t, err, ErrNotSavable)

	_, err = s.Save(ctx, reply("fine"), "   ")
	require.Error(t, err)
}

func TestDeleteAllowsSavingAgain(t *testing.T) {
	store := &memStore{}
	s := NewSaver(store, "guid-1", logger.NewNop())
	ctx := context.Background()

	st, err := s.Save(ctx, reply("Worth keeping"), "One")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, st.ID))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = s.Save(ctx, reply("Worth keeping"), "Two")
	require.NoError(t, err)
}

func TestConcurrentSavesOfSameContentPersistOnce(t *testing.T) {
	store := &memStore{createDelay: 20 * time.Millisecond}
	s := NewSaver(store, "guid-1", logger.NewNop())
	ctx := context.Background()

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Save(ctx, reply("same content"), "T")
		}(i)
	}
	wg.Wait()

	saved := 0
	for _, err := range errs {
		if err == nil {
			saved++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicate)
	}
	require.Equal(t, 1, saved)
	require.Len(t, store.stories, 1)
}

func TestFailedSaveReleasesReservation(t *testing.T) {
	store := &memStore{createErr: errors.New("backend down")}
	s := NewSaver(store, "guid-1", logger.NewNop())
	ctx := context.Background()

	_, err := s.Save(ctx, reply("retry me"), "T")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDuplicate)

	store.mu.Lock()
	store.createErr = nil
	store.mu.Unlock()

	_, err = s.Save(ctx, reply("retry me"), "T")
	require.NoError(t, err)
}
