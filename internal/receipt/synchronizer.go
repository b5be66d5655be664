// Package receipt propagates read state in both directions: the local
// user's mark_seen goes out optimistically, and peers' messages_seen events
// stamp our own messages as read.
package receipt

import (
	"time"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/directory"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// EventSeen is published when a peer marks a conversation as seen.
const EventSeen = "receipt.seen"

// Seen is the payload of receipt.seen.
type Seen struct {
	ConversationID int64
	SeenByUserID   int64
	SeenAt         time.Time
}

// Sender is the outbound side of the persistent connection.
type Sender interface {
	Send(event string, payload any) error
}

// ReadStamper stamps the local user's sent messages as read. Satisfied by
// the sync engine.
type ReadStamper interface {
	MarkOwnRead(conversationID int64, seenAt time.Time)
}

// Synchronizer wires read receipts between the directory, the message log,
// and the wire.
type Synchronizer struct {
	conn    Sender
	dir     *directory.Directory
	stamper ReadStamper
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSynchronizer creates a read-receipt synchronizer.
func NewSynchronizer(conn Sender, dir *directory.Directory, stamper ReadStamper, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		conn:    conn,
		dir:     dir,
		stamper: stamper,
		bus:     b,
		logger:  logger,
	}
}

// Attach subscribes the synchronizer to inbound messages_seen events.
// Returns a cancel function.
func (s *Synchronizer) Attach(b *bus.Bus) func() {
	return b.On(wire.Namespace+wire.EventMessagesSeen, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.MessagesSeen); ok {
			s.handleSeen(p)
		}
	})
}

// MarkSeen reports that the local user has seen the conversation. The unread
// counter resets immediately without waiting for the server; a failed wire
// send keeps the counter at zero and is only logged, since the server will
// recompute unread on the next conversation list fetch anyway.
func (s *Synchronizer) MarkSeen(conversationID int64) {
	s.dir.ResetUnread(conversationID)
	if err := s.conn.Send(wire.EventMarkSeen, conversationID); err != nil {
		s.logger.Warn("mark_seen not sent",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

// handleSeen stamps the local user's unstamped messages in the conversation.
// Stamping is idempotent, so replayed messages_seen events are harmless.
func (s *Synchronizer) handleSeen(p wire.MessagesSeen) {
	s.stamper.MarkOwnRead(p.ConversationID, p.SeenAt)
	s.bus.Emit(bus.Event{
		Kind:      EventSeen,
		Timestamp: time.Now(),
		Payload: Seen{
			ConversationID: p.ConversationID,
			SeenByUserID:   p.SeenByUserID,
			SeenAt:         p.SeenAt,
		},
	})
}
