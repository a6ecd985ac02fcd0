package session

import (
	"context"
	"errors"
	"testing"
	"time"

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

type fixture struct {
	store   *snapshot.Store
	bus     *bus.Bus
	bridge  *bridge.Bridge
	machine *status.Machine
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := snapshot.NewMemory()
	b := bus.New()
	reg := registry.New(store)
	br := bridge.New(store, b, zap.NewNop())
	worker := responder.NewWorker(nil, b, zap.NewNop())
	worker.Start(context.Background())
	t.Cleanup(worker.Stop)
	machine := status.NewMachine(b)

	m := NewManager(store, reg, br, worker, machine, b, zap.NewNop())
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return &fixture{store: store, bus: b, bridge: br, machine: machine, manager: m}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRegisterCreatesDefaultSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	me, err := f.manager.Me()
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.Balance != model.InitialBalance {
		t.Errorf("balance = %v, want %v", me.Balance, model.InitialBalance)
	}

	if _, err := f.store.LoadSnapshot(ctx, "alice"); err != nil {
		t.Errorf("persisted snapshot missing: %v", err)
	}
	if id, _ := f.store.LastActiveUser(ctx); id != "alice" {
		t.Errorf("last active = %q, want alice", id)
	}
	if got := f.machine.Current(); got != status.Active {
		t.Errorf("state = %v, want Active", got)
	}
}

func TestLoginLoadsPersistedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.AddContact(ctx, model.Contact{ID: "bob", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.StartChat(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.Send(ctx, "bob", model.MessageText, chat.Payload{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.Login(ctx, "alice", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	msgs, err := f.manager.Messages("bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("chat has %d messages after relogin, want 1", len(msgs))
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	err := f.manager.Login(ctx, "alice", "wrong")
	if !errors.Is(err, registry.ErrBadCredential) {
		t.Errorf("Login() error = %v, want ErrBadCredential", err)
	}
	if _, ok := f.manager.ActiveUser(); ok {
		t.Error("session became active after failed login")
	}
}

func TestResumeRestoresLastActiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}

	// A second manager over the same store stands in for a restart.
	m2 := NewManager(f.store, registry.New(f.store), f.bridge, nil, status.NewMachine(f.bus), f.bus, zap.NewNop())
	if err := m2.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if id, ok := m2.ActiveUser(); !ok || id != "alice" {
		t.Errorf("active user = %q, want alice", id)
	}
}

func TestResumeWithoutMarker(t *testing.T) {
	f := newFixture(t)
	if err := f.manager.Resume(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Resume() error = %v, want ErrNoSession", err)
	}
}

func TestLogoutClearsMarkerKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if id, _ := f.store.LastActiveUser(ctx); id != "" {
		t.Errorf("last active = %q, want cleared", id)
	}
	if _, err := f.store.LoadSnapshot(ctx, "alice"); err != nil {
		t.Errorf("snapshot should survive logout: %v", err)
	}
	if _, err := f.manager.Chats(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Chats() after logout error = %v, want ErrNoSession", err)
	}
	if f.manager.RememberedUser(ctx) != "alice" {
		t.Error("remembered user should survive logout")
	}
}

func TestSendDeliversToCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "bob", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.AddContact(ctx, model.Contact{ID: "bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.StartChat(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.Send(ctx, "bob", model.MessageText, chat.Payload{Text: "hey bob"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	snap, err := f.store.LoadSnapshot(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	c := snap.FindChat("alice")
	if c == nil {
		t.Fatal("bob has no chat with alice")
	}
	if c.UnreadCount != 1 || len(c.Messages) != 1 {
		t.Errorf("unread = %d, messages = %d, want 1 and 1", c.UnreadCount, len(c.Messages))
	}
	if c.Messages[0].IsFromLocalUser {
		t.Error("delivered copy should not be marked as bob's own")
	}
}

func TestSendToUnknownCounterpartStaysLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.AddContact(ctx, model.Contact{ID: "ghost", Name: "Ghost"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.StartChat(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.manager.Send(ctx, "ghost", model.MessageText, chat.Payload{Text: "anyone?"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msgs, err := f.manager.Messages("ghost")
	if err != nil || len(msgs) != 1 {
		t.Errorf("local chat messages = %d (err %v), want 1", len(msgs), err)
	}
	if _, err := f.store.LoadSnapshot(ctx, "ghost"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("ghost snapshot error = %v, want ErrNotFound", err)
	}
}

func TestResponderReplyLandsInbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	f.bus.Publish(bus.Event{
		Kind:      bus.KindResponderReply,
		Timestamp: time.Now(),
		Payload:   bus.ResponderReply{ChatID: model.SystemChatID, Text: "at your service"},
	})

	waitFor(t, func() bool {
		msgs, err := f.manager.Messages(model.SystemChatID)
		return err == nil && len(msgs) == 2
	})

	msgs, _ := f.manager.Messages(model.SystemChatID)
	last := msgs[len(msgs)-1]
	if last.Text != "at your service" || last.IsFromLocalUser {
		t.Errorf("inbound reply = %+v", last)
	}
	chats, _ := f.manager.Chats()
	for _, c := range chats {
		if c.ID == model.SystemChatID && c.UnreadCount != 1 {
			t.Errorf("unread = %d, want 1", c.UnreadCount)
		}
	}
}

func TestResponderReplyRematerializesDeletedChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	f.bus.Publish(bus.Event{
		Kind:      bus.KindResponderReply,
		Timestamp: time.Now(),
		Payload:   bus.ResponderReply{ChatID: "oracle", Text: "still here"},
	})

	waitFor(t, func() bool {
		msgs, err := f.manager.Messages("oracle")
		return err == nil && len(msgs) == 1
	})

	chats, _ := f.manager.Chats()
	if chats[0].ID != "oracle" || !chats[0].IsAutomated {
		t.Errorf("re-materialized chat = %+v, want automated oracle first", chats[0])
	}
}

func TestExternalDeliveryMergesIntoActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}

	msg := model.Message{
		ID:        "m1",
		Type:      model.MessageText,
		Text:      "ping",
		Timestamp: time.Now().UnixMilli(),
	}
	if err := f.bridge.Deliver(ctx, bridge.Sender{ID: "bob"}, "alice", msg); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		chats, err := f.manager.Chats()
		if err != nil {
			return false
		}
		for _, c := range chats {
			if c.ID == "bob" && c.UnreadCount == 1 {
				return true
			}
		}
		return false
	})
}

func TestOpenChatSuppressesUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.OpenChat(ctx, model.SystemChatID); err != nil {
		t.Fatal(err)
	}

	f.bus.Publish(bus.Event{
		Kind:      bus.KindResponderReply,
		Timestamp: time.Now(),
		Payload:   bus.ResponderReply{ChatID: model.SystemChatID, Text: "hello again"},
	})

	waitFor(t, func() bool {
		msgs, err := f.manager.Messages(model.SystemChatID)
		return err == nil && len(msgs) == 2
	})

	chats, _ := f.manager.Chats()
	for _, c := range chats {
		if c.ID == model.SystemChatID && c.UnreadCount != 0 {
			t.Errorf("unread = %d, want 0 while chat open", c.UnreadCount)
		}
	}
}

func TestDeleteContactCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.AddContact(ctx, model.Contact{ID: "bob", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager.StartChat(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.DeleteContact(ctx, "bob"); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}

	if _, err := f.manager.Messages("bob"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Errorf("chat should cascade away, got error %v", err)
	}
	contacts, _ := f.manager.Contacts()
	if len(contacts) != 0 {
		t.Errorf("contacts = %d, want 0", len(contacts))
	}
}

func TestSetAvatarMirroredToRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.manager.Register(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.SetAvatar(ctx, "https://example.com/new.png"); err != nil {
		t.Fatal(err)
	}

	reg, err := f.store.LoadRegistry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := reg["alice"].AvatarURL; got != "https://example.com/new.png" {
		t.Errorf("registry avatar = %q, not mirrored", got)
	}
}
