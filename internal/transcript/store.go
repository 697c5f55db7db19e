// ABOUTME: Append-only transcript store with one open message at the tail.
// ABOUTME: Merges text/reasoning deltas and enforces tool-call/tool-result pairing.

package transcript

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store errors.
var (
	ErrInvalidState   = errors.New("invalid transcript state")
	ErrUnknownMessage = errors.New("unknown message")
	ErrDuplicateID    = errors.New("duplicate message id")
	ErrDuplicateCall  = errors.New("duplicate tool call id")
	ErrUnpairedResult = errors.New("tool result without matching tool call")
	ErrNilPart        = errors.New("nil part")
)

// Store is an ordered sequence of messages. Only the last message may be
// open; every earlier message is sealed.
type Store struct {
	mu       sync.RWMutex
	messages []*Message
	byID     map[string]int
}

// NewStore creates an empty transcript.
func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Append adds a complete message to the tail and seals it. A message
// without an ID is assigned one.
func (s *Store) Append(msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openLocked() != nil {
		return "", fmt.Errorf("append: %w: message %s is still open", ErrInvalidState, s.messages[len(s.messages)-1].ID)
	}
	for _, p := range msg.Parts {
		if p == nil {
			return "", fmt.Errorf("append: %w", ErrNilPart)
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if _, exists := s.byID[msg.ID]; exists {
		return "", fmt.Errorf("append %s: %w", msg.ID, ErrDuplicateID)
	}
	cp := msg.Clone()
	cp.Sealed = true
	s.pushLocked(&cp)
	return cp.ID, nil
}

// Open starts a new open message with a generated ID.
func (s *Store) Open(role Role) (string, error) {
	id := uuid.New().String()
	if err := s.OpenWithID(id, role); err != nil {
		return "", err
	}
	return id, nil
}

// OpenWithID starts a new open message with the given ID.
func (s *Store) OpenWithID(id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if open := s.openLocked(); open != nil {
		return fmt.Errorf("open: %w: message %s is still open", ErrInvalidState, open.ID)
	}
	if _, exists := s.byID[id]; exists {
		return fmt.Errorf("open %s: %w", id, ErrDuplicateID)
	}
	s.pushLocked(&Message{ID: id, Role: role})
	return nil
}

// AppendPart adds a part to an open message. Text and reasoning deltas are
// concatenated into the last part when it has the same kind.
func (s *Store) AppendPart(id string, p Part) error {
	if p == nil {
		return fmt.Errorf("append to %s: %w", id, ErrNilPart)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if msg.Sealed {
		return fmt.Errorf("append %s to %s: %w: message is sealed", p.Kind(), id, ErrInvalidState)
	}

	switch v := p.(type) {
	case TextPart:
		if n := len(msg.Parts); n > 0 {
			if last, ok := msg.Parts[n-1].(TextPart); ok {
				msg.Parts[n-1] = TextPart{Text: last.Text + v.Text}
				return nil
			}
		}
	case ReasoningPart:
		if n := len(msg.Parts); n > 0 {
			if last, ok := msg.Parts[n-1].(ReasoningPart); ok {
				msg.Parts[n-1] = ReasoningPart{Text: last.Text + v.Text}
				return nil
			}
		}
	case ToolCallPart:
		for _, existing := range msg.Parts {
			if c, ok := existing.(ToolCallPart); ok && c.CallID == v.CallID {
				return fmt.Errorf("call %s: %w", v.CallID, ErrDuplicateCall)
			}
		}
	case ToolResultPart:
		if err := checkPairing(msg, v.CallID); err != nil {
			return err
		}
	}

	msg.Parts = append(msg.Parts, clonePart(p))
	return nil
}

// checkPairing verifies a result has exactly one earlier call and no
// earlier result.
func checkPairing(msg *Message, callID string) error {
	calls := 0
	for _, existing := range msg.Parts {
		switch e := existing.(type) {
		case ToolCallPart:
			if e.CallID == callID {
				calls++
			}
		case ToolResultPart:
			if e.CallID == callID {
				return fmt.Errorf("call %s already has a result: %w", callID, ErrUnpairedResult)
			}
		}
	}
	if calls != 1 {
		return fmt.Errorf("call %s: %w", callID, ErrUnpairedResult)
	}
	return nil
}

// Seal marks a message immutable. Sealing a sealed message is a no-op.
func (s *Store) Seal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	msg.Sealed = true
	return nil
}

// SealOpen seals the open message, if any, and returns its ID.
func (s *Store) SealOpen() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.openLocked()
	if open == nil {
		return "", false
	}
	open.Sealed = true
	return open.ID, true
}

// Last returns a copy of the last message.
func (s *Store) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Get returns a copy of the message with the given ID.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx].Clone(), true
}

// Messages returns copies of all messages in order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset removes every message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byID = make(map[string]int)
}

func (s *Store) pushLocked(m *Message) {
	s.byID[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
}

func (s *Store) openLocked() *Message {
	if len(s.messages) == 0 {
		return nil
	}
	last := s.messages[len(s.messages)-1]
	if last.Sealed {
		return nil
	}
	return last
}

func (s *Store) lookupLocked(id string) (*Message, error) {
	idx, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrUnknownMessage)
	}
	return s.messages[idx], nil
}
