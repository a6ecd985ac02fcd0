// Package chat owns the active user's conversations: message lifecycle
// (send, recall, delete, mark-read), inbound application and the wallet
// ledger mutated by transfer and red-packet messages. All operations
// mutate the in-memory snapshot; the session manager persists after each.
package chat

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"wesim/internal/model"
)

// RecallWindow bounds how long after sending a self-authored message can
// still be recalled.
const RecallWindow = 2 * time.Minute

var (
	// ErrChatNotFound means the chat id resolves to no conversation.
	ErrChatNotFound = errors.New("chat: not found")
	// ErrContactNotFound means the contact id is unknown.
	ErrContactNotFound = errors.New("chat: contact not found")
	// ErrMessageNotFound means the message id resolves to nothing.
	ErrMessageNotFound = errors.New("chat: message not found")
	// ErrRecallWindow means the recall came too late.
	ErrRecallWindow = errors.New("chat: recall window expired")
	// ErrBadAmount means a transfer or packet amount failed to parse.
	ErrBadAmount = errors.New("chat: bad amount")
)

// Payload carries the type-specific fields of an outgoing message.
type Payload struct {
	Text            string
	Amount          string // decimal string for transfer / red-packet
	DurationSeconds int    // voice messages
}

// ChatMeta describes the conversation an inbound message belongs to, used
// to materialize the chat when the sender is unknown.
type ChatMeta struct {
	ID          string
	Name        string
	Avatar      string
	IsAutomated bool
}

// Store mutates one user's snapshot. It is not safe for concurrent use;
// the session manager serializes access.
type Store struct {
	userID string
	snap   *model.Snapshot
	now    func() time.Time
}

// New creates a store over the given user's snapshot.
func New(userID string, snap *model.Snapshot) *Store {
	return &Store{userID: userID, snap: snap, now: time.Now}
}

// Balance returns the current ledger balance.
func (s *Store) Balance() float64 {
	return s.snap.Balance
}

// SendMessage appends a freshly stamped message to a chat and updates the
// chat preview. Transfers debit the ledger immediately, clamped at zero.
func (s *Store) SendMessage(chatID string, typ model.MessageType, p Payload) (model.Message, error) {
	c := s.snap.FindChat(chatID)
	if c == nil {
		return model.Message{}, ErrChatNotFound
	}

	msg := model.Message{
		ID:              uuid.NewString(),
		SenderID:        s.userID,
		Type:            typ,
		Text:            p.Text,
		Amount:          p.Amount,
		DurationSeconds: p.DurationSeconds,
		Timestamp:       s.now().UnixMilli(),
		IsFromLocalUser: true,
		State:           model.StateSent,
	}

	if typ == model.MessageTransfer {
		amt, err := parseAmount(p.Amount)
		if err != nil {
			return model.Message{}, err
		}
		s.debit(amt)
	}

	c.Messages = append(c.Messages, msg)
	c.LastMessage = model.Summary(msg)
	c.LastMessageAt = msg.Timestamp
	return msg, nil
}

// RecallMessage flips a message to recalled in place, preserving its
// payload for re-edit. Missing or already-recalled messages are a silent
// no-op. Self-authored messages older than RecallWindow are rejected; the
// UI enforces the window too, but the store is the authority.
func (s *Store) RecallMessage(chatID, msgID string) error {
	m := s.snap.FindMessage(chatID, msgID)
	if m == nil || m.IsRecalled {
		return nil
	}
	if m.IsFromLocalUser {
		age := s.now().UnixMilli() - m.Timestamp
		if age > RecallWindow.Milliseconds() {
			return ErrRecallWindow
		}
	}
	m.IsRecalled = true

	c := s.snap.FindChat(chatID)
	c.LastMessage = model.RecallNotice(m.IsFromLocalUser, m.SenderID)
	return nil
}

// DeleteMessage removes a message entirely and recomputes the chat preview
// from the new tail. Irreversible.
func (s *Store) DeleteMessage(chatID, msgID string) error {
	c := s.snap.FindChat(chatID)
	if c == nil {
		return ErrChatNotFound
	}
	kept := c.Messages[:0]
	found := false
	for _, m := range c.Messages {
		if m.ID == msgID {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return ErrMessageNotFound
	}
	c.Messages = kept

	if len(c.Messages) == 0 {
		c.LastMessage = ""
	} else {
		tail := c.Messages[len(c.Messages)-1]
		c.LastMessage = model.Summary(tail)
		c.LastMessageAt = tail.Timestamp
	}
	return nil
}

// MarkChatRead resets the unread counter. Message-level read state is
// advisory and left untouched.
func (s *Store) MarkChatRead(chatID string) error {
	c := s.snap.FindChat(chatID)
	if c == nil {
		return ErrChatNotFound
	}
	c.UnreadCount = 0
	return nil
}

// ApplyInbound appends a message delivered from outside this session,
// creating the chat lazily for unknown senders. The unread counter bumps
// unless the chat is currently open on screen.
func (s *Store) ApplyInbound(meta ChatMeta, msg model.Message, chatOpen bool) {
	c := s.snap.FindChat(meta.ID)
	if c == nil {
		s.snap.Chats = append([]model.Chat{{
			ID:          meta.ID,
			Name:        meta.Name,
			Avatar:      meta.Avatar,
			IsAutomated: meta.IsAutomated,
		}}, s.snap.Chats...)
		c = &s.snap.Chats[0]
	}
	c.Messages = append(c.Messages, msg)
	c.LastMessage = model.Summary(msg)
	c.LastMessageAt = msg.Timestamp
	if !chatOpen {
		c.UnreadCount++
	}
}

// OpenRedPacket credits the packet amount exactly once and reports what
// was credited. Opening an already-opened packet is a no-op.
func (s *Store) OpenRedPacket(chatID, msgID string) (float64, error) {
	m := s.snap.FindMessage(chatID, msgID)
	if m == nil || m.Type != model.MessageRedPacket {
		return 0, ErrMessageNotFound
	}
	if m.IsOpened {
		return 0, nil
	}
	amt := model.DefaultRedPacketAmount
	if m.Amount != "" {
		parsed, err := parseAmount(m.Amount)
		if err != nil {
			return 0, err
		}
		amt = parsed
	}
	m.IsOpened = true
	s.snap.Balance += amt
	return amt, nil
}

// AcceptTransfer credits the transfer amount exactly once. Accepting an
// already-received transfer is a no-op.
func (s *Store) AcceptTransfer(chatID, msgID string) (float64, error) {
	m := s.snap.FindMessage(chatID, msgID)
	if m == nil || m.Type != model.MessageTransfer {
		return 0, ErrMessageNotFound
	}
	if m.IsReceived {
		return 0, nil
	}
	amt, err := parseAmount(m.Amount)
	if err != nil {
		return 0, err
	}
	m.IsReceived = true
	s.snap.Balance += amt
	return amt, nil
}

// StartChat materializes a conversation with a contact if absent and
// returns it. The contact's remark wins over their name.
func (s *Store) StartChat(contactID string) (*model.Chat, error) {
	contact := s.snap.FindContact(contactID)
	if contact == nil {
		return nil, ErrContactNotFound
	}
	if c := s.snap.FindChat(contactID); c != nil {
		return c, nil
	}
	name := contact.Name
	if contact.Remark != "" {
		name = contact.Remark
	}
	s.snap.Chats = append([]model.Chat{{
		ID:          contact.ID,
		Name:        name,
		Avatar:      contact.Avatar,
		IsAutomated: contact.ID == model.SystemChatID,
	}}, s.snap.Chats...)
	return &s.snap.Chats[0], nil
}

// AddContact inserts a contact; an existing id is a no-op.
func (s *Store) AddContact(c model.Contact) {
	if s.snap.FindContact(c.ID) != nil {
		return
	}
	s.snap.Contacts = append([]model.Contact{c}, s.snap.Contacts...)
}

// DeleteContact removes a contact and cascades to their chat.
func (s *Store) DeleteContact(contactID string) error {
	found := false
	kept := s.snap.Contacts[:0]
	for _, c := range s.snap.Contacts {
		if c.ID == contactID {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrContactNotFound
	}
	s.snap.Contacts = kept

	chats := s.snap.Chats[:0]
	for _, c := range s.snap.Chats {
		if c.ID == contactID {
			continue
		}
		chats = append(chats, c)
	}
	s.snap.Chats = chats
	return nil
}

// History returns the last n non-recalled text messages as (role, text)
// turns for the responder gateway. Roles are "user" for self-authored
// messages and "model" for the counterpart's.
func (s *Store) History(chatID string, n int) [][2]string {
	c := s.snap.FindChat(chatID)
	if c == nil {
		return nil
	}
	var turns [][2]string
	for _, m := range c.Messages {
		if m.Type != model.MessageText || m.IsRecalled {
			continue
		}
		role := "model"
		if m.IsFromLocalUser {
			role = "user"
		}
		turns = append(turns, [2]string{role, m.Text})
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func (s *Store) debit(amt float64) {
	s.snap.Balance -= amt
	if s.snap.Balance < 0 {
		s.snap.Balance = 0
	}
}

func parseAmount(raw string) (float64, error) {
	amt, err := strconv.ParseFloat(raw, 64)
	if err != nil || amt < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, raw)
	}
	return amt, nil
}
