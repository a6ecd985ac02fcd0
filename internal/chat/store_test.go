package chat

import (
	"errors"
	"testing"
	"time"

	"wesim/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	snap := model.DefaultSnapshot("alice")
	snap.Chats = append(snap.Chats, model.Chat{ID: "bob", Name: "bob"})
	return New("alice", snap)
}

func TestSendTextUpdatesPreview(t *testing.T) {
	s := testStore(t)

	msg, err := s.SendMessage("bob", model.MessageText, Payload{Text: "hello"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !msg.IsFromLocalUser || msg.SenderID != "alice" {
		t.Errorf("msg = %+v, want self-authored by alice", msg)
	}
	if msg.State != model.StateSent {
		t.Errorf("state = %q, want sent", msg.State)
	}

	c := s.snap.FindChat("bob")
	if c.LastMessage != "hello" {
		t.Errorf("lastMessage = %q, want hello", c.LastMessage)
	}
	if c.LastMessageAt != msg.Timestamp {
		t.Errorf("lastMessageAt = %d, want %d", c.LastMessageAt, msg.Timestamp)
	}
}

func TestSendUnknownChat(t *testing.T) {
	s := testStore(t)
	if _, err := s.SendMessage("nobody", model.MessageText, Payload{Text: "x"}); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("error = %v, want ErrChatNotFound", err)
	}
}

func TestSendPreservesOrder(t *testing.T) {
	s := testStore(t)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.SendMessage("bob", model.MessageText, Payload{Text: text}); err != nil {
			t.Fatal(err)
		}
	}
	// An async inbound reply arriving later must append after, never reorder.
	s.ApplyInbound(ChatMeta{ID: "bob", Name: "bob"}, model.Message{
		ID: "r1", SenderID: "bob", Type: model.MessageText, Text: "reply",
		Timestamp: time.Now().UnixMilli(),
	}, false)

	c := s.snap.FindChat("bob")
	got := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		got = append(got, m.Text)
	}
	want := []string{"one", "two", "three", "reply"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message order = %v, want %v", got, want)
		}
	}
}

func TestTransferDebitsWithFloor(t *testing.T) {
	s := testStore(t)
	s.snap.Balance = 80

	if _, err := s.SendMessage("bob", model.MessageTransfer, Payload{Amount: "50.00"}); err != nil {
		t.Fatal(err)
	}
	if s.Balance() != 30 {
		t.Errorf("balance = %v, want 30", s.Balance())
	}

	// Second debit would go negative; clamp at zero.
	if _, err := s.SendMessage("bob", model.MessageTransfer, Payload{Amount: "50.00"}); err != nil {
		t.Fatal(err)
	}
	if s.Balance() != 0 {
		t.Errorf("balance = %v, want floor at 0", s.Balance())
	}

	c := s.snap.FindChat("bob")
	if c.LastMessage != "[transfer] ¥50.00" {
		t.Errorf("lastMessage = %q, want transfer summary", c.LastMessage)
	}
}

func TestTransferBadAmount(t *testing.T) {
	s := testStore(t)
	if _, err := s.SendMessage("bob", model.MessageTransfer, Payload{Amount: "fifty"}); !errors.Is(err, ErrBadAmount) {
		t.Errorf("error = %v, want ErrBadAmount", err)
	}
	if _, err := s.SendMessage("bob", model.MessageTransfer, Payload{Amount: "-5"}); !errors.Is(err, ErrBadAmount) {
		t.Errorf("negative amount error = %v, want ErrBadAmount", err)
	}
}

func TestRecallWithinWindow(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	s.now = func() time.Time { return base }

	msg, err := s.SendMessage("bob", model.MessageText, Payload{Text: "oops"})
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(119 * time.Second) }
	if err := s.RecallMessage("bob", msg.ID); err != nil {
		t.Fatalf("recall at T+119s error = %v, want success", err)
	}

	m := s.snap.FindMessage("bob", msg.ID)
	if !m.IsRecalled {
		t.Error("message not flagged recalled")
	}
	if m.Text != "oops" {
		t.Errorf("recalled text = %q, want original preserved for re-edit", m.Text)
	}
	if got := s.snap.FindChat("bob").LastMessage; got != "You recalled a message" {
		t.Errorf("lastMessage = %q, want recall notice", got)
	}
}

func TestRecallAfterWindowRejected(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	s.now = func() time.Time { return base }

	msg, err := s.SendMessage("bob", model.MessageText, Payload{Text: "late"})
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(121 * time.Second) }
	if err := s.RecallMessage("bob", msg.ID); !errors.Is(err, ErrRecallWindow) {
		t.Errorf("recall at T+121s error = %v, want ErrRecallWindow", err)
	}
	if s.snap.FindMessage("bob", msg.ID).IsRecalled {
		t.Error("stale recall must not flag the message")
	}
}

func TestRecallNoOps(t *testing.T) {
	s := testStore(t)

	// Missing message: silent no-op.
	if err := s.RecallMessage("bob", "missing"); err != nil {
		t.Errorf("recall of missing message error = %v, want nil", err)
	}

	msg, err := s.SendMessage("bob", model.MessageText, Payload{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecallMessage("bob", msg.ID); err != nil {
		t.Fatal(err)
	}
	// Already recalled: silent no-op.
	if err := s.RecallMessage("bob", msg.ID); err != nil {
		t.Errorf("second recall error = %v, want nil", err)
	}
}

func TestInboundRecallIgnoresWindow(t *testing.T) {
	s := testStore(t)
	s.ApplyInbound(ChatMeta{ID: "bob", Name: "bob"}, model.Message{
		ID: "old", SenderID: "bob", Type: model.MessageText, Text: "hi",
		Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
	}, false)

	if err := s.RecallMessage("bob", "old"); err != nil {
		t.Errorf("counterpart recall error = %v, want accepted regardless of age", err)
	}
	if got := s.snap.FindChat("bob").LastMessage; got != "bob recalled a message" {
		t.Errorf("lastMessage = %q, want peer recall notice", got)
	}
}

func TestDeleteMessageRecomputesPreview(t *testing.T) {
	s := testStore(t)

	first, _ := s.SendMessage("bob", model.MessageText, Payload{Text: "first"})
	second, _ := s.SendMessage("bob", model.MessageText, Payload{Text: "second"})

	if err := s.DeleteMessage("bob", second.ID); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	c := s.snap.FindChat("bob")
	if c.LastMessage != "first" {
		t.Errorf("lastMessage = %q, want recomputed from tail", c.LastMessage)
	}

	if err := s.DeleteMessage("bob", first.ID); err != nil {
		t.Fatal(err)
	}
	if c.LastMessage != "" {
		t.Errorf("lastMessage = %q, want empty after last delete", c.LastMessage)
	}

	if err := s.DeleteMessage("bob", "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("error = %v, want ErrMessageNotFound", err)
	}
}

func TestMarkChatRead(t *testing.T) {
	s := testStore(t)
	s.snap.FindChat("bob").UnreadCount = 5

	if err := s.MarkChatRead("bob"); err != nil {
		t.Fatal(err)
	}
	if got := s.snap.FindChat("bob").UnreadCount; got != 0 {
		t.Errorf("unreadCount = %d, want 0", got)
	}
	if err := s.MarkChatRead("nobody"); !errors.Is(err, ErrChatNotFound) {
		t.Errorf("error = %v, want ErrChatNotFound", err)
	}
}

func TestApplyInboundCreatesChatAndCountsUnread(t *testing.T) {
	s := testStore(t)

	msg := model.Message{
		ID: "m1", SenderID: "carol", Type: model.MessageText, Text: "hey",
		Timestamp: time.Now().UnixMilli(),
	}
	s.ApplyInbound(ChatMeta{ID: "carol", Name: "carol", Avatar: "a"}, msg, false)

	c := s.snap.FindChat("carol")
	if c == nil {
		t.Fatal("chat not materialized for unknown sender")
	}
	if c.UnreadCount != 1 {
		t.Errorf("unreadCount = %d, want 1", c.UnreadCount)
	}
	if s.snap.Chats[0].ID != "carol" {
		t.Error("new chat should be placed first")
	}

	// Open chat: no unread bump.
	s.ApplyInbound(ChatMeta{ID: "carol"}, model.Message{ID: "m2", SenderID: "carol", Type: model.MessageText, Text: "again"}, true)
	if c := s.snap.FindChat("carol"); c.UnreadCount != 1 {
		t.Errorf("unreadCount = %d, want unchanged while open", c.UnreadCount)
	}
}

func TestOpenRedPacketIdempotent(t *testing.T) {
	s := testStore(t)
	s.snap.Balance = 0

	msg, err := s.SendMessage("bob", model.MessageRedPacket, Payload{Amount: "8.88"})
	if err != nil {
		t.Fatal(err)
	}

	credited, err := s.OpenRedPacket("bob", msg.ID)
	if err != nil {
		t.Fatalf("OpenRedPacket() error = %v", err)
	}
	if credited != 8.88 || s.Balance() != 8.88 {
		t.Errorf("credited %v balance %v, want 8.88 both", credited, s.Balance())
	}

	credited, err = s.OpenRedPacket("bob", msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if credited != 0 || s.Balance() != 8.88 {
		t.Errorf("second open credited %v balance %v, want no double credit", credited, s.Balance())
	}
}

func TestOpenRedPacketDefaultAmount(t *testing.T) {
	s := testStore(t)
	s.snap.Balance = 0

	msg, err := s.SendMessage("bob", model.MessageRedPacket, Payload{})
	if err != nil {
		t.Fatal(err)
	}
	credited, err := s.OpenRedPacket("bob", msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if credited != model.DefaultRedPacketAmount {
		t.Errorf("credited = %v, want default %v", credited, model.DefaultRedPacketAmount)
	}
}

func TestAcceptTransferIdempotent(t *testing.T) {
	s := testStore(t)
	s.snap.Balance = 100

	msg, err := s.SendMessage("bob", model.MessageTransfer, Payload{Amount: "50.00"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Balance() != 50 {
		t.Fatalf("balance after debit = %v, want 50", s.Balance())
	}

	// The recipient side accepts; here we exercise the same store.
	credited, err := s.AcceptTransfer("bob", msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if credited != 50 || s.Balance() != 100 {
		t.Errorf("credited %v balance %v, want 50 and 100", credited, s.Balance())
	}

	credited, err = s.AcceptTransfer("bob", msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if credited != 0 || s.Balance() != 100 {
		t.Errorf("second accept credited %v balance %v, want no double credit", credited, s.Balance())
	}
}

func TestStartChatFromContact(t *testing.T) {
	s := testStore(t)
	s.AddContact(model.Contact{ID: "dave", Name: "Dave", Remark: "Manager Dave", Avatar: "av"})

	c, err := s.StartChat("dave")
	if err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	if c.Name != "Manager Dave" {
		t.Errorf("chat name = %q, want remark preferred", c.Name)
	}

	// Idempotent: second start returns the same chat.
	again, err := s.StartChat("dave")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Error("second StartChat created a duplicate")
	}

	if _, err := s.StartChat("nobody"); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("error = %v, want ErrContactNotFound", err)
	}
}

func TestDeleteContactCascades(t *testing.T) {
	s := testStore(t)
	s.AddContact(model.Contact{ID: "dave", Name: "Dave"})
	if _, err := s.StartChat("dave"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteContact("dave"); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}
	if s.snap.FindContact("dave") != nil {
		t.Error("contact still present")
	}
	if s.snap.FindChat("dave") != nil {
		t.Error("chat not cascaded")
	}
}

func TestHistoryWindow(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 12; i++ {
		if _, err := s.SendMessage("bob", model.MessageText, Payload{Text: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	recalled, _ := s.SendMessage("bob", model.MessageText, Payload{Text: "secret"})
	if err := s.RecallMessage("bob", recalled.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SendMessage("bob", model.MessageImage, Payload{}); err != nil {
		t.Fatal(err)
	}
	s.ApplyInbound(ChatMeta{ID: "bob"}, model.Message{ID: "r", SenderID: "bob", Type: model.MessageText, Text: "sure"}, false)

	turns := s.History("bob", 10)
	if len(turns) != 10 {
		t.Fatalf("got %d turns, want 10", len(turns))
	}
	last := turns[len(turns)-1]
	if last[0] != "model" || last[1] != "sure" {
		t.Errorf("last turn = %v, want model/sure", last)
	}
	for _, turn := range turns {
		if turn[1] == "secret" {
			t.Error("recalled message leaked into history")
		}
	}
}
