package message

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/logging"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	Logger logging.Logger
	// IDFunc generates message ids. Defaults to util.NewID.
	IDFunc func() string
	// Now is the clock used for CreatedAt.
	Now func() time.Time
}

// Store is the conversation log. It is safe for concurrent use; every
// mutation is applied atomically so readers never observe a half-updated
// active path.
type Store struct {
	mu       sync.RWMutex
	messages []*Message
	appended uint64
	opts     StoreOptions
}

// NewStore creates an empty conversation log.
func NewStore(optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{
		Logger: logging.NoOpLogger{},
		IDFunc: util.NewID,
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = core.EnsureLogger(opts.Logger)
	return &Store{opts: opts}
}

// NewStoreFromMessages restores a log from persisted messages after
// validating every invariant.
func NewStoreFromMessages(msgs []Message, optFns ...func(o *StoreOptions)) (*Store, error) {
	s := NewStore(optFns...)
	seen := make(map[string]struct{}, len(msgs))
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[msgs[i].ID]; dup {
			return nil, fmt.Errorf("duplicate message id %s", msgs[i].ID)
		}
		seen[msgs[i].ID] = struct{}{}
		m := msgs[i].clone()
		s.messages = append(s.messages, &m)
	}
	return s, nil
}

// AddMessage appends a message with a single alternative and returns its id.
func (s *Store) AddMessage(role core.Role, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &Message{
		ID:           s.opts.IDFunc(),
		Role:         role,
		Alternatives: []string{content},
		CreatedAt:    s.opts.Now(),
	}
	s.messages = append(s.messages, m)
	s.appended++

	s.opts.Logger.Debug("message.added", "message_id", m.ID, "role", string(role), "position", len(s.messages)-1)

	return m.ID
}

// AddAlternative appends content as a new variant of the message, makes it
// active and truncates every message after it.
func (s *Store) AddAlternative(id, content string) (Alternative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.indexLocked(id)
	if pos < 0 {
		return Alternative{}, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}

	m := s.messages[pos]
	m.Alternatives = append(m.Alternatives, content)
	m.ActiveAlternative = len(m.Alternatives) - 1

	dropped := len(s.messages) - pos - 1
	for i := pos + 1; i < len(s.messages); i++ {
		s.messages[i] = nil
	}
	s.messages = s.messages[:pos+1]

	s.opts.Logger.Debug("message.alternative.added", "message_id", id, "alternatives", len(m.Alternatives), "dropped", dropped)

	return Alternative{Index: m.ActiveAlternative, Count: len(m.Alternatives)}, nil
}

// SetActiveAlternative selects which variant of the message is active.
// Index must be within [0, len(alternatives)); otherwise ErrOutOfRange is
// returned and nothing changes.
func (s *Store) SetActiveAlternative(id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.indexLocked(id)
	if pos < 0 {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}

	m := s.messages[pos]
	if index < 0 || index >= len(m.Alternatives) {
		return fmt.Errorf("message %s: alternative %d of %d: %w", id, index, len(m.Alternatives), core.ErrOutOfRange)
	}
	m.ActiveAlternative = index

	return nil
}

// ActiveSequence returns the {role, content} pairs along the active path.
func (s *Store) ActiveSequence() []core.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Entry, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Entry()
	}
	return out
}

// SequenceBefore returns the active path up to, but excluding, the message
// with the given id.
func (s *Store) SequenceBefore(id string) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := s.indexLocked(id)
	if pos < 0 {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	out := make([]core.Entry, pos)
	for i, m := range s.messages[:pos] {
		out[i] = m.Entry()
	}
	return out, nil
}

// Messages returns deep copies of all messages in order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := s.indexLocked(id)
	if pos < 0 {
		return Message{}, false
	}
	return s.messages[pos].clone(), true
}

// Last returns the most recent message.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1].clone(), true
}

// LastByRole returns the most recent message with the given role.
func (s *Store) LastByRole(role core.Role) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == role {
			return s.messages[i].clone(), true
		}
	}
	return Message{}, false
}

// Len returns the number of messages on the active path.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

// Appended returns how many messages were ever appended to this log. It is
// monotonic: truncation and Clear do not decrease it.
func (s *Store) Appended() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.appended
}

// Clear removes every message.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages)
	s.messages = nil

	s.opts.Logger.Debug("message.cleared", "removed", n)
}

func (s *Store) indexLocked(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
