// Package bridge simulates point-to-point delivery between two locally
// persisted accounts. There is no network: delivery writes a mirrored
// inbound copy straight into the counterpart's snapshot and broadcasts a
// change notification so a concurrently open session can merge it.
package bridge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wesim/internal/bus"
	"wesim/internal/model"
	"wesim/internal/snapshot"
)

// Sender identifies the local user a delivery originates from.
type Sender struct {
	ID     string
	Avatar string
}

// Bridge delivers messages into other users' snapshots.
type Bridge struct {
	store  *snapshot.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a bridge over the shared snapshot store.
func New(store *snapshot.Store, b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{store: store, bus: b, logger: logger}
}

// Deliver writes msg into toUserID's persisted snapshot: the chat keyed by
// the sender's id gains a mirrored inbound copy and one unread. A
// counterpart with no snapshot (never registered) makes the whole send a
// silent local-only no-op.
func (b *Bridge) Deliver(ctx context.Context, from Sender, toUserID string, msg model.Message) error {
	if toUserID == model.SystemChatID {
		return nil
	}

	snap, err := b.store.LoadSnapshot(ctx, toUserID)
	if errors.Is(err, snapshot.ErrNotFound) {
		b.logger.Debug("counterpart has no snapshot, dropping delivery",
			zap.String("to", toUserID))
		return nil
	}
	if err != nil {
		return err
	}

	inbound := msg
	inbound.SenderID = from.ID
	inbound.IsFromLocalUser = false
	inbound.State = model.StateDelivered

	c := snap.FindChat(from.ID)
	if c == nil {
		snap.Chats = append([]model.Chat{{
			ID:     from.ID,
			Name:   from.ID,
			Avatar: from.Avatar,
		}}, snap.Chats...)
		c = &snap.Chats[0]
	}
	c.Messages = append(c.Messages, inbound)
	c.LastMessage = model.Summary(inbound)
	c.LastMessageAt = inbound.Timestamp
	c.UnreadCount++

	if err := b.store.SaveSnapshot(ctx, toUserID, snap); err != nil {
		return err
	}

	b.bus.Publish(bus.Event{
		Kind:      bus.KindSnapshotChanged,
		Timestamp: time.Now(),
		Payload: bus.SnapshotChanged{
			Key:    snapshot.UserDataKey(toUserID),
			UserID: toUserID,
		},
	})
	b.logger.Info("message delivered",
		zap.String("from", from.ID),
		zap.String("to", toUserID),
		zap.String("msg_id", msg.ID))
	return nil
}
