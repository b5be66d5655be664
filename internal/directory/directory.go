// Package directory maintains the current user's conversation list: recency
// ordering, last-message previews, per-conversation unread counters and the
// other participant's presence flag.
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovasylenko/chatline/internal/api"
	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// Conversation is one entry of the directory. It belongs to the directory;
// the message synchronizer refers to conversations by id only.
type Conversation struct {
	ID                  int64
	OtherUserID         int64
	OtherUsername       string
	OtherFirstName      string
	OtherLastName       string
	OtherIsOnline       bool
	LastMessageContent  string
	LastMessageTime     time.Time
	LastMessageSenderID int64
	UnreadCount         int
}

// ConversationAPI is the slice of the collaborator API the directory needs.
type ConversationAPI interface {
	Conversations(ctx context.Context) ([]api.ConversationSummary, error)
	CreateConversation(ctx context.Context, participantID int64) (*api.CreatedConversation, error)
}

// PresenceSource answers whether a user is currently online. Used to
// annotate freshly created conversations.
type PresenceSource interface {
	IsOnline(userID int64) bool
}

// Directory holds the conversation list, most recent first.
type Directory struct {
	mu    sync.RWMutex
	order []int64
	byID  map[int64]*Conversation

	api      ConversationAPI
	presence PresenceSource
	logger   *zap.Logger
}

// New creates an empty directory.
func New(capi ConversationAPI, presence PresenceSource, logger *zap.Logger) *Directory {
	return &Directory{
		byID:     make(map[int64]*Conversation),
		api:      capi,
		presence: presence,
		logger:   logger,
	}
}

// Attach keeps the other-participant online flags current from presence wire
// events. Returns a cancel function.
func (d *Directory) Attach(b *bus.Bus) func() {
	offOnline := b.On(wire.Namespace+wire.EventUserOnline, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserOnline); ok {
			d.setOtherOnline(p.UserID, true)
		}
	})
	offOffline := b.On(wire.Namespace+wire.EventUserOffline, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserOffline); ok {
			d.setOtherOnline(p.UserID, false)
		}
	})
	return func() {
		offOnline()
		offOffline()
	}
}

func (d *Directory) setOtherOnline(userID int64, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.byID {
		if c.OtherUserID == userID {
			c.OtherIsOnline = online
		}
	}
}

// Load replaces the directory contents with the collaborator's conversation
// list, including its server-computed unread counts.
func (d *Directory) Load(ctx context.Context) error {
	summaries, err := d.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = d.order[:0]
	d.byID = make(map[int64]*Conversation, len(summaries))
	for _, s := range summaries {
		c := &Conversation{
			ID:                 s.ID,
			OtherUserID:        s.OtherUserID,
			OtherUsername:      s.OtherUsername,
			OtherFirstName:     s.OtherFirstName,
			OtherLastName:      s.OtherLastName,
			OtherIsOnline:      s.OtherIsOnline,
			LastMessageContent: s.LastMessageContent,
			UnreadCount:        s.UnreadCount,
		}
		if s.LastMessageTime != nil {
			c.LastMessageTime = *s.LastMessageTime
		}
		d.byID[c.ID] = c
		d.order = append(d.order, c.ID)
	}
	d.logger.Info("conversations loaded", zap.Int("count", len(summaries)))
	return nil
}

// List returns copies of all conversations, most recent first.
func (d *Directory) List() []Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conversation, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.byID[id])
	}
	return out
}

// Get returns a copy of one conversation.
func (d *Directory) Get(id int64) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// OpenOrCreate returns the conversation with the given participant, creating
// it through the collaborator API when it does not exist locally. A created
// conversation is inserted at the head, annotated with the participant's
// current presence.
func (d *Directory) OpenOrCreate(ctx context.Context, otherUserID int64) (Conversation, error) {
	d.mu.RLock()
	for _, c := range d.byID {
		if c.OtherUserID == otherUserID {
			out := *c
			d.mu.RUnlock()
			return out, nil
		}
	}
	d.mu.RUnlock()

	created, err := d.api.CreateConversation(ctx, otherUserID)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	online := false
	if d.presence != nil {
		online = d.presence.IsOnline(created.Participant.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byID[created.Conversation.ID]; ok {
		// The server returned a conversation we already had under a stale
		// participant id; keep the local entry.
		return *existing, nil
	}
	c := &Conversation{
		ID:             created.Conversation.ID,
		OtherUserID:    created.Participant.ID,
		OtherUsername:  created.Participant.Username,
		OtherFirstName: created.Participant.FirstName,
		OtherLastName:  created.Participant.LastName,
		OtherIsOnline:  online,
	}
	d.byID[c.ID] = c
	d.order = append([]int64{c.ID}, d.order...)
	return *c, nil
}

// Bump refreshes a conversation's last-message preview and moves it to the
// head of the list. A conversation not yet known locally gets a stub entry
// so unread counting works before any history is fetched; the next Load
// fills in the participant fields.
func (d *Directory) Bump(convID int64, content string, at time.Time, senderID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.ensureLocked(convID)
	c.LastMessageContent = content
	c.LastMessageTime = at
	c.LastMessageSenderID = senderID
	d.moveToHeadLocked(convID)
}

// IncrementUnread adds one to a conversation's unread counter.
func (d *Directory) IncrementUnread(convID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensureLocked(convID).UnreadCount++
}

// ResetUnread zeroes a conversation's unread counter. Only an explicit seen
// action calls this; merely listing conversations never does.
func (d *Directory) ResetUnread(convID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.byID[convID]; ok {
		c.UnreadCount = 0
	}
}

// UnreadCount returns a conversation's unread counter.
func (d *Directory) UnreadCount(convID int64) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if c, ok := d.byID[convID]; ok {
		return c.UnreadCount
	}
	return 0
}

func (d *Directory) ensureLocked(convID int64) *Conversation {
	c, ok := d.byID[convID]
	if !ok {
		c = &Conversation{ID: convID}
		d.byID[convID] = c
		d.order = append(d.order, convID)
	}
	return c
}

func (d *Directory) moveToHeadLocked(convID int64) {
	for i, id := range d.order {
		if id == convID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.order = append([]int64{convID}, d.order...)
}
