// Package session owns the active account: it loads a snapshot on login,
// serializes every mutation, and writes the snapshot back wholesale after
// each one so the persisted copy never lags memory across a restart.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wesim/internal/bridge"
	"wesim/internal/bus"
	"wesim/internal/chat"
	"wesim/internal/model"
	"wesim/internal/registry"
	"wesim/internal/responder"
	"wesim/internal/snapshot"
	"wesim/internal/status"
)

// ErrNoSession means an operation needs a logged-in user and none is.
var ErrNoSession = errors.New("session: not logged in")

// historyWindow bounds how many prior turns the responder gateway sees.
const historyWindow = 10

// UserInfo is the active user's own profile view.
type UserInfo struct {
	ID        string  `json:"id"`
	Balance   float64 `json:"balance"`
	AvatarURL string  `json:"avatarUrl"`
	Status    string  `json:"status,omitempty"`
}

// Manager tracks which user is active and routes every mutation through
// their in-memory snapshot, persisting after each operation.
type Manager struct {
	store     *snapshot.Store
	reg       *registry.Registry
	bridge    *bridge.Bridge
	responder *responder.Worker
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger

	mu         sync.Mutex
	userID     string
	snap       *model.Snapshot
	chats      *chat.Store
	openChatID string

	cancel context.CancelFunc
}

// NewManager wires the session manager.
func NewManager(
	store *snapshot.Store,
	reg *registry.Registry,
	br *bridge.Bridge,
	worker *responder.Worker,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:     store,
		reg:       reg,
		bridge:    br,
		responder: worker,
		machine:   machine,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes the manager to bus events: snapshot rewrites by the
// delivery bridge and completed responder replies.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the event loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Register creates a fresh account, persists its default snapshot and
// activates the session.
func (m *Manager) Register(ctx context.Context, id, password string) error {
	entry, err := m.reg.Register(ctx, id, password)
	if err != nil {
		return err
	}
	snap := model.DefaultSnapshot(id)
	if err := m.store.SaveSnapshot(ctx, id, snap); err != nil {
		return err
	}
	m.activate(ctx, entry.ID, snap)
	return nil
}

// Login authenticates and loads the user's persisted snapshot, or
// synthesizes a default one when none exists yet.
func (m *Manager) Login(ctx context.Context, id, password string) error {
	entry, err := m.reg.Authenticate(ctx, id, password)
	if err != nil {
		return err
	}
	snap, err := m.store.LoadSnapshot(ctx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		snap = model.DefaultSnapshot(id)
	} else if err != nil {
		return err
	}
	m.activate(ctx, entry.ID, snap)
	return nil
}

// Resume silently restores the last active user's session, with no
// credential check. Returns ErrNoSession when no marker is present.
func (m *Manager) Resume(ctx context.Context) error {
	id, err := m.store.LastActiveUser(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNoSession
	}
	snap, err := m.store.LoadSnapshot(ctx, id)
	if errors.Is(err, snapshot.ErrNotFound) {
		snap = model.DefaultSnapshot(id)
	} else if err != nil {
		return err
	}
	m.activate(ctx, id, snap)
	m.logger.Info("session resumed", zap.String("user", id))
	return nil
}

// Logout persists the snapshot one last time and clears the last-active
// marker. The snapshot itself survives for the next login.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	m.persistLocked(ctx)
	if err := m.store.SetLastActiveUser(ctx, ""); err != nil {
		m.logger.Warn("failed to clear last-active marker", zap.Error(err))
	}
	m.logger.Info("logged out", zap.String("user", m.userID))
	m.userID = ""
	m.snap = nil
	m.chats = nil
	m.openChatID = ""
	if m.machine.Current() == status.Active {
		_ = m.machine.Transition(status.LoggedOut)
	}
	return nil
}

// ActiveUser returns the logged-in user id, if any.
func (m *Manager) ActiveUser() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.userID != ""
}

// RememberedUser returns the login-form prefill.
func (m *Manager) RememberedUser(ctx context.Context) string {
	id, err := m.store.RememberedUser(ctx)
	if err != nil {
		return ""
	}
	return id
}

// Me returns the active user's profile view.
func (m *Manager) Me() (UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return UserInfo{}, ErrNoSession
	}
	return UserInfo{
		ID:        m.userID,
		Balance:   m.snap.Balance,
		AvatarURL: m.snap.AvatarURL,
		Status:    m.snap.Status,
	}, nil
}

// Chats returns the active user's conversation list (copies).
func (m *Manager) Chats() ([]model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return nil, ErrNoSession
	}
	out := make([]model.Chat, len(m.snap.Chats))
	copy(out, m.snap.Chats)
	return out, nil
}

// Messages returns a chat's message list (a copy).
func (m *Manager) Messages(chatID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return nil, ErrNoSession
	}
	c := m.snap.FindChat(chatID)
	if c == nil {
		return nil, chat.ErrChatNotFound
	}
	out := make([]model.Message, len(c.Messages))
	copy(out, c.Messages)
	return out, nil
}

// Contacts returns the active user's address book (copies).
func (m *Manager) Contacts() ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return nil, ErrNoSession
	}
	out := make([]model.Contact, len(m.snap.Contacts))
	copy(out, m.snap.Contacts)
	return out, nil
}

// Send appends an outgoing message and fans it out: automated chats get an
// async responder ask, two-party chats get a bridge delivery into the
// counterpart's snapshot. Neither leg blocks or fails the local send.
func (m *Manager) Send(ctx context.Context, chatID string, typ model.MessageType, p chat.Payload) (model.Message, error) {
	m.mu.Lock()
	if m.userID == "" {
		m.mu.Unlock()
		return model.Message{}, ErrNoSession
	}

	// History window is captured before the send so the gateway sees the
	// new text only as the latest message.
	history := m.chats.History(chatID, historyWindow)

	msg, err := m.chats.SendMessage(chatID, typ, p)
	if err != nil {
		m.mu.Unlock()
		return model.Message{}, err
	}
	m.persistLocked(ctx)

	c := m.snap.FindChat(chatID)
	automated := c.IsAutomated
	persona := c.Name
	from := bridge.Sender{ID: m.userID, Avatar: m.snap.AvatarURL}
	m.mu.Unlock()

	if automated {
		if typ == model.MessageText {
			m.responder.Ask(responder.Request{
				ChatID:  chatID,
				Persona: persona,
				History: toTurns(history),
				Message: p.Text,
			})
		}
	} else if err := m.bridge.Deliver(ctx, from, chatID, msg); err != nil {
		// Delivery trouble never fails the local send.
		m.logger.Warn("delivery failed", zap.String("to", chatID), zap.Error(err))
	}

	m.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSent,
		Timestamp: time.Now(),
		Payload:   bus.MessageRef{ChatID: chatID, MessageID: msg.ID},
	})
	return msg, nil
}

// Recall flips a message to recalled, subject to the store's time window.
func (m *Manager) Recall(ctx context.Context, chatID, msgID string) error {
	return m.mutate(ctx, bus.KindMessageRecalled, chatID, msgID, func() error {
		return m.chats.RecallMessage(chatID, msgID)
	})
}

// Delete removes a message permanently.
func (m *Manager) Delete(ctx context.Context, chatID, msgID string) error {
	return m.mutate(ctx, bus.KindMessageDeleted, chatID, msgID, func() error {
		return m.chats.DeleteMessage(chatID, msgID)
	})
}

// OpenChat marks a chat as on-screen: unread resets now and inbound
// messages stop bumping it until CloseChat.
func (m *Manager) OpenChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	if err := m.chats.MarkChatRead(chatID); err != nil {
		return err
	}
	m.openChatID = chatID
	m.persistLocked(ctx)
	return nil
}

// CloseChat clears the on-screen marker.
func (m *Manager) CloseChat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openChatID = ""
}

// MarkRead resets a chat's unread counter.
func (m *Manager) MarkRead(ctx context.Context, chatID string) error {
	return m.mutate(ctx, "", chatID, "", func() error {
		return m.chats.MarkChatRead(chatID)
	})
}

// OpenRedPacket credits a red packet exactly once.
func (m *Manager) OpenRedPacket(ctx context.Context, chatID, msgID string) (float64, error) {
	var credited float64
	err := m.mutate(ctx, "", chatID, msgID, func() error {
		var err error
		credited, err = m.chats.OpenRedPacket(chatID, msgID)
		return err
	})
	return credited, err
}

// AcceptTransfer credits a transfer exactly once.
func (m *Manager) AcceptTransfer(ctx context.Context, chatID, msgID string) (float64, error) {
	var credited float64
	err := m.mutate(ctx, "", chatID, msgID, func() error {
		var err error
		credited, err = m.chats.AcceptTransfer(chatID, msgID)
		return err
	})
	return credited, err
}

// StartChat materializes a conversation with a contact.
func (m *Manager) StartChat(ctx context.Context, contactID string) (model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return model.Chat{}, ErrNoSession
	}
	c, err := m.chats.StartChat(contactID)
	if err != nil {
		return model.Chat{}, err
	}
	m.persistLocked(ctx)
	return *c, nil
}

// AddContact inserts an address-book entry, resolving name and avatar
// from the registry when the id is a known account.
func (m *Manager) AddContact(ctx context.Context, c model.Contact) error {
	if entry, err := m.reg.Get(ctx, c.ID); err == nil {
		if c.Name == "" {
			c.Name = entry.Name
		}
		if c.Avatar == "" {
			c.Avatar = entry.AvatarURL
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	m.chats.AddContact(c)
	m.persistLocked(ctx)
	return nil
}

// DeleteContact removes a contact and cascades to their chat.
func (m *Manager) DeleteContact(ctx context.Context, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	if err := m.chats.DeleteContact(contactID); err != nil {
		return err
	}
	m.persistLocked(ctx)
	return nil
}

// SetAvatar updates the active user's avatar; Persist mirrors it into the
// registry so other users' contact views stay current.
func (m *Manager) SetAvatar(ctx context.Context, avatarURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	m.snap.AvatarURL = avatarURL
	m.persistLocked(ctx)
	return nil
}

// SetStatus updates the active user's status line.
func (m *Manager) SetStatus(ctx context.Context, statusText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	m.snap.Status = statusText
	m.persistLocked(ctx)
	return nil
}

func (m *Manager) activate(ctx context.Context, id string, snap *model.Snapshot) {
	m.mu.Lock()
	m.userID = id
	m.snap = snap
	m.chats = chat.New(id, snap)
	m.openChatID = ""
	m.persistLocked(ctx)
	m.mu.Unlock()

	if err := m.store.SetLastActiveUser(ctx, id); err != nil {
		m.logger.Warn("failed to set last-active marker", zap.Error(err))
	}
	if err := m.store.SetRememberedUser(ctx, id); err != nil {
		m.logger.Warn("failed to set remembered user", zap.Error(err))
	}
	if m.machine.Current() != status.Active {
		_ = m.machine.Transition(status.Active)
	}
	m.logger.Info("session active", zap.String("user", id))
}

// mutate runs op under the session lock, persists, and optionally
// publishes a message event.
func (m *Manager) mutate(ctx context.Context, kind, chatID, msgID string, op func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return ErrNoSession
	}
	if err := op(); err != nil {
		return err
	}
	m.persistLocked(ctx)
	if kind != "" {
		m.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   bus.MessageRef{ChatID: chatID, MessageID: msgID},
		})
	}
	return nil
}

// persistLocked writes the active snapshot through to storage and mirrors
// the avatar into the registry. Storage failures are logged and abandoned;
// the in-memory copy stays authoritative until the next successful write.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.userID == "" {
		return
	}
	if err := m.store.SaveSnapshot(ctx, m.userID, m.snap); err != nil {
		m.logger.Error("snapshot persist failed, memory copy stays authoritative",
			zap.String("user", m.userID), zap.Error(err))
		return
	}
	if err := m.reg.SetAvatar(ctx, m.userID, m.snap.AvatarURL); err != nil {
		m.logger.Warn("avatar mirror failed", zap.Error(err))
	}
}

func (m *Manager) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindSnapshotChanged:
		change, ok := evt.Payload.(bus.SnapshotChanged)
		if !ok {
			return
		}
		m.mergeExternal(ctx, change.UserID)
	case bus.KindResponderReply:
		reply, ok := evt.Payload.(bus.ResponderReply)
		if !ok {
			return
		}
		m.applyReply(ctx, reply)
	}
}

// mergeExternal reloads the active snapshot after an outside writer (the
// delivery bridge acting for another session) rewrote it. Last write wins.
func (m *Manager) mergeExternal(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" || m.userID != userID {
		return
	}
	snap, err := m.store.LoadSnapshot(ctx, userID)
	if err != nil {
		m.logger.Warn("failed to merge external snapshot", zap.Error(err))
		return
	}
	m.snap = snap
	m.chats = chat.New(userID, snap)
	m.logger.Info("merged external snapshot update", zap.String("user", userID))
}

// applyReply lands a responder reply as an inbound message. A reply for a
// logged-out user is discarded; a reply for a deleted chat re-materializes
// it.
func (m *Manager) applyReply(ctx context.Context, reply bus.ResponderReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		m.logger.Debug("discarding responder reply, no active session",
			zap.String("chat_id", reply.ChatID))
		return
	}

	meta := chat.ChatMeta{ID: reply.ChatID, Name: reply.ChatID, IsAutomated: true}
	if c := m.snap.FindChat(reply.ChatID); c != nil {
		meta.Name = c.Name
		meta.Avatar = c.Avatar
	}
	msg := model.Message{
		ID:        uuid.NewString(),
		SenderID:  reply.ChatID,
		Type:      model.MessageText,
		Text:      reply.Text,
		Timestamp: time.Now().UnixMilli(),
		State:     model.StateDelivered,
	}
	m.chats.ApplyInbound(meta, msg, m.openChatID == reply.ChatID)
	m.persistLocked(ctx)

	m.bus.Publish(bus.Event{
		Kind:      bus.KindSnapshotChanged,
		Timestamp: time.Now(),
		Payload: bus.SnapshotChanged{
			Key:    snapshot.UserDataKey(m.userID),
			UserID: m.userID,
		},
	})
}

func toTurns(history [][2]string) []responder.Turn {
	turns := make([]responder.Turn, 0, len(history))
	for _, h := range history {
		turns = append(turns, responder.Turn{Role: h[0], Text: h[1]})
	}
	return turns
}
