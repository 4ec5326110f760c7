package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chatdesk/internal/model"
)

const (
	// StreamName is the name of the controller change stream.
	StreamName = "CHATDESK"

	// SubjectPrefix is the prefix for all change subjects.
	SubjectPrefix = "chatdesk"

	noConversation = "_"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the change stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxBytes:    256 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Chat controller state changes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// ChangeSubject returns the subject for a change of a conversation.
func ChangeSubject(conversationID string, kind model.ChangeKind) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(conversationID), kind)
}

// ConversationFilter returns the filter subject for all changes of a
// conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(conversationID))
}

// PublishChange publishes a change event to JetStream.
func (m *StreamManager) PublishChange(ctx context.Context, ev *model.ChangeEvent) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal change event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, ChangeSubject(ev.ConversationID, ev.Change), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish change event: %w", err)
	}
	return ack.Sequence, nil
}

// subjectToken makes an id safe for use as a single subject token.
func subjectToken(id string) string {
	if id == "" {
		return noConversation
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}
