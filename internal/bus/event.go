package bus

import "time"

// Event kinds published in this module. Subscribers filter by prefix,
// e.g. "snapshot." receives every snapshot event.
const (
	KindSnapshotChanged = "snapshot.changed"
	KindMessageSent     = "message.sent"
	KindMessageRecalled = "message.recalled"
	KindMessageDeleted  = "message.deleted"
	KindResponderReply  = "responder.reply"
	KindStatusChanged   = "session.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// SnapshotChanged announces that a user's persisted snapshot was rewritten
// outside their own session (delivery fan-out). Key is the storage key the
// snapshot lives under; a session open for UserID should reload it.
type SnapshotChanged struct {
	Key    string `json:"key"`
	UserID string `json:"userId"`
}

// MessageRef points at one message inside one chat.
type MessageRef struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ResponderReply carries a generated reply waiting to be applied as an
// inbound message on the originating chat.
type ResponderReply struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}
