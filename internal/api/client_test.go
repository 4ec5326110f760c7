package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

func newTestServer(t *testing.T) (*Client, *chi.Mux) {
	t.Helper()
	r := chi.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second, logger.NewNop()), r
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListConversationsSendsPaging(t *testing.T) {
	c, r := newTestServer(t)
	r.Get("/api/conversations", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "1", req.URL.Query().Get("page"))
		assert.Equal(t, "50", req.URL.Query().Get("page_size"))
		writeJSON(t, w, model.ListConversationsResponse{
			Conversations: []model.Conversation{{ID: "c1", Title: "One"}, {ID: "c2", Title: "Two"}},
			Total:         2,
		})
	})

	convs, err := c.ListConversations(context.Background(), 1, 50)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, "c2", convs[1].ID)
}

func TestListDocumentIDsCursor(t *testing.T) {
	c, r := newTestServer(t)
	r.Get("/api/documents/ids", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		assert.Equal(t, "c1", q.Get("conversation_id"))
		assert.Equal(t, "10", q.Get("limit"))
		if q.Get("before_id") == "d5" {
			writeJSON(t, w, model.DocumentIDsResponse{DocumentIDs: []string{"d3", "d4"}})
			return
		}
		assert.False(t, q.Has("before_id"))
		writeJSON(t, w, model.DocumentIDsResponse{DocumentIDs: []string{"d5", "d6"}})
	})

	ids, err := c.ListDocumentIDs(context.Background(), "c1", "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"d5", "d6"}, ids)

	ids, err = c.ListDocumentIDs(context.Background(), "c1", "d5", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"d3", "d4"}, ids)
}

func TestGetDocumentNotFound(t *testing.T) {
	c, r := newTestServer(t)
	r.Get("/api/documents/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"no such document"}`)
	})

	_, err := c.GetDocument(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "no such document", statusErr.Message)
}

func TestCreateConversationRequiresID(t *testing.T) {
	c, r := newTestServer(t)
	r.Post("/api/conversations/new", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(t, w, model.Conversation{})
	})

	_, err := c.CreateConversation(context.Background())
	require.Error(t, err)
}

func TestRenameConversation(t *testing.T) {
	c, r := newTestServer(t)
	var got model.RenameConversationRequest
	r.Put("/api/conversations/{id}/title", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "c1", chi.URLParam(req, "id"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.RenameConversation(context.Background(), "c1", "Fresh title"))
	require.Equal(t, "Fresh title", got.Title)
}

func TestSendChatStreamsBody(t *testing.T) {
	c, r := newTestServer(t)
	r.Post("/api/chat", func(w http.ResponseWriter, req *http.Request) {
		var body model.ChatRequest
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "c1", body.ConversationID)
		assert.Equal(t, "m1", body.Model)
		assert.Equal(t, "Hello", body.Messages[0].Content)

		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "Hi ")
		flusher.Flush()
		_, _ = io.WriteString(w, `there!<GRANDMA_METADATA>{"document_id":42}</GRANDMA_METADATA>`)
	})

	rc, err := c.SendChat(context.Background(), "c1", "m1", "Hello")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, `Hi there!<GRANDMA_METADATA>{"document_id":42}</GRANDMA_METADATA>`, string(data))
}

func TestSendChatErrorStatus(t *testing.T) {
	c, r := newTestServer(t)
	r.Post("/api/chat", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.SendChat(context.Background(), "c1", "m1", "Hello")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestGetDocumentsBatch(t *testing.T) {
	c, r := newTestServer(t)
	r.Post("/api/documents/by-ids", func(w http.ResponseWriter, req *http.Request) {
		var body model.DocumentsByIDsRequest
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.DocumentIDs)
		writeJSON(t, w, model.DocumentListResponse{Documents: []model.Document{{ID: "b"}, {ID: "a"}}})
	})

	docs, err := c.GetDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
}
