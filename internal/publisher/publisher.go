// Package publisher announces cache changes to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// Topics used for mention events.
const (
	TopicMentionDiscovered = "mention.discovered"
	TopicMentionSent       = "mention.sent"
)

// Publisher delivers a payload to a topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// MentionEvent describes a mention the run learned about or delivered.
type MentionEvent struct {
	RunID        string    `json:"run_id"`
	Document     string    `json:"document"`
	ID           string    `json:"id,omitempty"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	Type         string    `json:"type,omitempty"`
	VerifiedDate time.Time `json:"verified_date,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Attributes returns broker metadata for the event.
func (e MentionEvent) Attributes() map[string]string {
	attrs := map[string]string{"run_id": e.RunID}
	if e.Type != "" {
		attrs["mention_type"] = e.Type
	}
	return attrs
}
