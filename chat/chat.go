package chat

import (
	"strings"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/message"
)

const titleLimit = 40

// Record is the persisted form of a chat.
type Record struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	AgentID   string            `json:"agentId,omitempty"`
	Messages  []message.Message `json:"messages"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Restore rebuilds a message store from the record.
func (r *Record) Restore(optFns ...func(o *message.StoreOptions)) (*message.Store, error) {
	return message.NewStoreFromMessages(r.Messages, optFns...)
}

// Capture copies the store's messages into the record and derives a title
// from the first user message when none is set.
func (r *Record) Capture(store *message.Store) {
	r.Messages = store.Messages()
	r.UpdatedAt = time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}
	if r.Title == "" {
		for _, m := range r.Messages {
			if m.Role == core.RoleUser {
				r.Title = Title(m.Content())
				break
			}
		}
	}
}

// Title shortens the first line of content to a chat title.
func Title(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	r := []rune(line)
	if len(r) <= titleLimit {
		return line
	}
	return strings.TrimSpace(string(r[:titleLimit])) + "..."
}
