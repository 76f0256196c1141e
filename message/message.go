package message

import (
	"fmt"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// Message is one position in the conversation log.
//
// Invariants: Alternatives is never empty and ActiveAlternative is always a
// valid index into it.
type Message struct {
	ID                string    `json:"id"`
	Role              core.Role `json:"role"`
	Alternatives      []string  `json:"alternatives"`
	ActiveAlternative int       `json:"activeAlternativeIndex"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Content returns the active alternative.
func (m Message) Content() string {
	return m.Alternatives[m.ActiveAlternative]
}

// Entry returns the {role, content} view of the message.
func (m Message) Entry() core.Entry {
	return core.Entry{Role: m.Role, Content: m.Content()}
}

// Validate checks the message invariants.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message without id")
	}
	if !m.Role.Valid() {
		return fmt.Errorf("message %s: unknown role %q", m.ID, m.Role)
	}
	if len(m.Alternatives) == 0 {
		return fmt.Errorf("message %s: no alternatives", m.ID)
	}
	if m.ActiveAlternative < 0 || m.ActiveAlternative >= len(m.Alternatives) {
		return fmt.Errorf("message %s: active alternative %d: %w", m.ID, m.ActiveAlternative, core.ErrOutOfRange)
	}
	return nil
}

func (m *Message) clone() Message {
	c := *m
	c.Alternatives = append([]string(nil), m.Alternatives...)
	return c
}

// Alternative describes the position of the active alternative after
// AddAlternative. String renders the 1-based "index/count" form shown to users.
type Alternative struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

func (a Alternative) String() string {
	return fmt.Sprintf("%d/%d", a.Index+1, a.Count)
}
