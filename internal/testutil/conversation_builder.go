package testutil

import (
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/message"
)

// ConversationBuilder helps construct message stores with fluent chaining.
// Example:
//
//	store := NewConversationBuilder().User("hi").Assistant("hello", "hey").Build()
//
// Message ids are deterministic: msg-1, msg-2, ...
type ConversationBuilder struct {
	turns []turn
}

type turn struct {
	role     core.Role
	variants []string
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder { return &ConversationBuilder{} }

// User appends a user message (chainable).
func (b *ConversationBuilder) User(content string) *ConversationBuilder {
	return b.add(core.RoleUser, content)
}

// Assistant appends an assistant message. Extra variants become
// alternatives and the last one is active (chainable).
func (b *ConversationBuilder) Assistant(content string, alternatives ...string) *ConversationBuilder {
	return b.add(core.RoleAssistant, append([]string{content}, alternatives...)...)
}

// Tool appends a tool message (chainable).
func (b *ConversationBuilder) Tool(content string) *ConversationBuilder {
	return b.add(core.RoleTool, content)
}

func (b *ConversationBuilder) add(role core.Role, variants ...string) *ConversationBuilder {
	b.turns = append(b.turns, turn{role: role, variants: variants})
	return b
}

// Build returns a populated store.
func (b *ConversationBuilder) Build() *message.Store {
	n := 0
	s := message.NewStore(func(o *message.StoreOptions) {
		o.IDFunc = func() string {
			n++
			return fmt.Sprintf("msg-%d", n)
		}
	})
	for _, t := range b.turns {
		id := s.AddMessage(t.role, t.variants[0])
		for _, alt := range t.variants[1:] {
			if _, err := s.AddAlternative(id, alt); err != nil {
				panic(err)
			}
		}
	}
	return s
}
