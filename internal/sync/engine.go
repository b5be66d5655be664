// Package sync keeps the per-conversation message logs consistent with the
// server: optimistic local sends reconciled against server-confirmed
// records, deduplication by server id, unread counting, and lazy history
// loading.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/directory"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// Bus event kinds published by the engine.
const (
	EventLogChanged      = "sync.log_changed"
	EventSendTimeout     = "sync.send_timeout"
	EventSendFailed      = "sync.send_failed"
	EventMessageReceived = "sync.message_received"
)

// State is the lifecycle state of a message in the local log.
type State string

const (
	Pending   State = "pending"
	Confirmed State = "confirmed"
	Failed    State = "failed"
)

// Message is one entry of a conversation log. A pending message has a
// client-assigned TempID and no server ID; a confirmed one has the server
// ID and no TempID.
type Message struct {
	ID             int64
	TempID         string
	ConversationID int64
	SenderID       int64
	Content        string
	MessageType    string
	CreatedAt      time.Time
	ReadAt         *time.Time
	State          State
}

// SendFailure is the payload of sync.send_timeout and sync.send_failed.
type SendFailure struct {
	ConversationID int64
	Reason         string
	Message        *Message // nil for server rejections that named no message
}

// LogChange is the payload of sync.log_changed.
type LogChange struct {
	ConversationID int64
}

// Sender is the outbound side of the persistent connection.
type Sender interface {
	Send(event string, payload any) error
}

// HistoryAPI is the slice of the collaborator API the engine needs.
type HistoryAPI interface {
	Messages(ctx context.Context, conversationID int64, page, limit int) ([]wire.MessageRecord, bool, error)
}

// ErrNoActiveConversation is returned by SendText when no conversation is
// active.
var ErrNoActiveConversation = errors.New("no active conversation")

const historyPageSize = 50

type pendingSend struct {
	conversationID int64
	timer          *time.Timer
}

// Engine owns the message logs. All mutation goes through its mutex; log
// reads return copies.
type Engine struct {
	mu      sync.Mutex
	logs    map[int64][]Message
	loaded  map[int64]bool
	pending map[string]pendingSend
	active  int64
	dups    int

	self    int64
	conn    Sender
	api     HistoryAPI
	dir     *directory.Directory
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration
}

// NewEngine creates a message synchronizer for the given local user id.
// timeout is the reconciliation window for optimistic sends.
func NewEngine(self int64, conn Sender, historyAPI HistoryAPI, dir *directory.Directory, b *bus.Bus, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		logs:    make(map[int64][]Message),
		loaded:  make(map[int64]bool),
		pending: make(map[string]pendingSend),
		self:    self,
		conn:    conn,
		api:     historyAPI,
		dir:     dir,
		bus:     b,
		logger:  logger,
		timeout: timeout,
	}
}

// Attach subscribes the engine to inbound wire events. Returns a cancel
// function.
func (e *Engine) Attach(b *bus.Bus) func() {
	offMsg := b.On(wire.Namespace+wire.EventNewMessage, func(evt bus.Event) {
		if rec, ok := evt.Payload.(wire.MessageRecord); ok {
			e.handleNewMessage(rec)
		}
	})
	offErr := b.On(wire.Namespace+wire.EventMessageError, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.MessageError); ok {
			e.handleMessageError(p)
		}
	})
	return func() {
		offMsg()
		offErr()
	}
}

// Stop cancels all outstanding reconciliation timers. Applied log state is
// left as is.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for tempID, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, tempID)
	}
}

// SendText appends a pending message to the conversation log, puts
// send_message on the wire, and starts the reconciliation timeout. Returns
// the temp id of the pending entry. The pending entry is observable
// immediately; no network round trip happens before SendText returns.
func (e *Engine) SendText(conversationID int64, content, messageType string) (string, error) {
	if conversationID == 0 {
		return "", ErrNoActiveConversation
	}
	if messageType == "" {
		messageType = "text"
	}

	tempID := uuid.New().String()
	msg := Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       e.self,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      time.Now(),
		State:          Pending,
	}

	e.mu.Lock()
	e.logs[conversationID] = append(e.logs[conversationID], msg)
	e.mu.Unlock()
	e.emitLogChanged(conversationID)

	err := e.conn.Send(wire.EventSendMessage, wire.SendMessage{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
	})
	if err != nil {
		// Roll the optimistic entry back; the log returns to its pre-send
		// state and the caller may retry.
		e.removeByTempID(tempID, conversationID)
		e.emitLogChanged(conversationID)
		return "", fmt.Errorf("send message: %w", err)
	}

	timer := time.AfterFunc(e.timeout, func() { e.expire(tempID) })
	e.mu.Lock()
	e.pending[tempID] = pendingSend{conversationID: conversationID, timer: timer}
	e.mu.Unlock()

	return tempID, nil
}

// expire fires when no confirmation arrived within the reconciliation
// window: the pending entry is removed and the failure surfaced.
func (e *Engine) expire(tempID string) {
	e.mu.Lock()
	p, ok := e.pending[tempID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, tempID)
	removed := e.removeByTempIDLocked(tempID, p.conversationID)
	e.mu.Unlock()

	if removed == nil {
		// Already superseded by a confirmation; nothing to report.
		return
	}
	removed.State = Failed
	e.logger.Warn("send confirmation timed out",
		zap.Int64("conversation_id", p.conversationID),
		zap.String("temp_id", tempID),
	)
	e.bus.Emit(bus.Event{
		Kind:      EventSendTimeout,
		Timestamp: time.Now(),
		Payload: SendFailure{
			ConversationID: p.conversationID,
			Reason:         "no confirmation within send timeout",
			Message:        removed,
		},
	})
	e.emitLogChanged(p.conversationID)
}

func (e *Engine) handleNewMessage(rec wire.MessageRecord) {
	e.mu.Lock()
	log := e.logs[rec.ConversationID]
	for i := range log {
		if log[i].ID == rec.ID {
			e.dups++
			e.mu.Unlock()
			e.logger.Info("duplicate message suppressed",
				zap.Int64("conversation_id", rec.ConversationID),
				zap.Int64("msg_id", rec.ID),
			)
			return
		}
	}

	if rec.SenderID == e.self {
		// A confirmation from ourselves supersedes every outstanding
		// optimistic message in this conversation, not just a matched one.
		log = e.clearPendingLocked(rec.ConversationID, log)
	}

	log = append(log, fromRecord(rec))
	e.logs[rec.ConversationID] = log
	inactive := e.active != rec.ConversationID
	e.mu.Unlock()

	if inactive {
		e.dir.IncrementUnread(rec.ConversationID)
	}
	e.dir.Bump(rec.ConversationID, truncate(rec.Content, 100), rec.CreatedAt, rec.SenderID)

	if rec.SenderID != e.self {
		e.bus.Emit(bus.Event{
			Kind:      EventMessageReceived,
			Timestamp: time.Now(),
			Payload:   fromRecord(rec),
		})
	}
	e.emitLogChanged(rec.ConversationID)
}

func (e *Engine) handleMessageError(p wire.MessageError) {
	e.mu.Lock()
	conv := e.active
	if conv == 0 {
		e.mu.Unlock()
		return
	}
	before := len(e.logs[conv])
	log := e.clearPendingLocked(conv, e.logs[conv])
	e.logs[conv] = log
	removedAny := len(log) != before
	e.mu.Unlock()

	e.logger.Warn("server rejected send", zap.String("error", p.Error), zap.Int64("conversation_id", conv))
	e.bus.Emit(bus.Event{
		Kind:      EventSendFailed,
		Timestamp: time.Now(),
		Payload: SendFailure{
			ConversationID: conv,
			Reason:         p.Error,
		},
	})
	if removedAny {
		e.emitLogChanged(conv)
	}
}

// Activate makes a conversation the current one: joins its room, and loads
// its history from the collaborator the first time it is opened. Unread
// reset is the read-receipt synchronizer's job, not ours.
func (e *Engine) Activate(ctx context.Context, conversationID int64) error {
	e.mu.Lock()
	e.active = conversationID
	needLoad := !e.loaded[conversationID]
	e.mu.Unlock()

	if err := e.conn.Send(wire.EventJoinConversation, conversationID); err != nil {
		e.logger.Warn("join_conversation not sent", zap.Error(err))
	}

	if !needLoad {
		return nil
	}
	return e.loadHistory(ctx, conversationID)
}

// Deactivate leaves the active conversation's room, if any.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	conv := e.active
	e.active = 0
	e.mu.Unlock()

	if conv == 0 {
		return
	}
	if err := e.conn.Send(wire.EventLeaveConversation, conv); err != nil {
		e.logger.Warn("leave_conversation not sent", zap.Error(err))
	}
}

// Active returns the currently active conversation id, or zero.
func (e *Engine) Active() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Messages returns a copy of one conversation's log in arrival order.
func (e *Engine) Messages(conversationID int64) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.logs[conversationID]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// MarkOwnRead stamps ReadAt on every message in the conversation sent by the
// local user that has no ReadAt yet. Idempotent; never clears an existing
// stamp.
func (e *Engine) MarkOwnRead(conversationID int64, seenAt time.Time) {
	e.mu.Lock()
	changed := false
	log := e.logs[conversationID]
	for i := range log {
		if log[i].SenderID == e.self && log[i].ReadAt == nil {
			at := seenAt
			log[i].ReadAt = &at
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.emitLogChanged(conversationID)
	}
}

// DuplicatesSuppressed returns how many inbound messages were dropped as
// duplicates of an already-confirmed id.
func (e *Engine) DuplicatesSuppressed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dups
}

// loadHistory fetches the first page of history and merges it ahead of any
// live-arrived entries. On failure the loaded flag stays unset so the next
// activation retries.
func (e *Engine) loadHistory(ctx context.Context, conversationID int64) error {
	records, _, err := e.api.Messages(ctx, conversationID, 1, historyPageSize)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	e.mu.Lock()
	if e.loaded[conversationID] {
		e.mu.Unlock()
		return nil
	}
	existing := e.logs[conversationID]
	merged := make([]Message, 0, len(records)+len(existing))
	seen := make(map[int64]bool, len(records))
	for _, rec := range records {
		merged = append(merged, fromRecord(rec))
		seen[rec.ID] = true
	}
	for _, m := range existing {
		if m.ID == 0 || !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	e.logs[conversationID] = merged
	e.loaded[conversationID] = true
	e.mu.Unlock()

	e.logger.Info("history loaded",
		zap.Int64("conversation_id", conversationID),
		zap.Int("messages", len(records)),
	)
	e.emitLogChanged(conversationID)
	return nil
}

// clearPendingLocked removes every pending entry for the conversation from
// the log and cancels its reconciliation timer. Caller holds e.mu.
func (e *Engine) clearPendingLocked(conversationID int64, log []Message) []Message {
	kept := log[:0]
	for _, m := range log {
		if m.State == Pending {
			continue
		}
		kept = append(kept, m)
	}
	for tempID, p := range e.pending {
		if p.conversationID == conversationID {
			p.timer.Stop()
			delete(e.pending, tempID)
		}
	}
	return kept
}

func (e *Engine) removeByTempID(tempID string, conversationID int64) {
	e.mu.Lock()
	e.removeByTempIDLocked(tempID, conversationID)
	e.mu.Unlock()
}

// removeByTempIDLocked removes the message with the given temp id and
// returns a copy of it, or nil when no such entry remains.
func (e *Engine) removeByTempIDLocked(tempID string, conversationID int64) *Message {
	log := e.logs[conversationID]
	for i := range log {
		if log[i].TempID == tempID {
			removed := log[i]
			e.logs[conversationID] = append(log[:i], log[i+1:]...)
			return &removed
		}
	}
	return nil
}

func (e *Engine) emitLogChanged(conversationID int64) {
	e.bus.Emit(bus.Event{
		Kind:      EventLogChanged,
		Timestamp: time.Now(),
		Payload:   LogChange{ConversationID: conversationID},
	})
}

func fromRecord(rec wire.MessageRecord) Message {
	m := Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		SenderID:       rec.SenderID,
		Content:        rec.Content,
		MessageType:    rec.MessageType,
		CreatedAt:      rec.CreatedAt,
		State:          Confirmed,
	}
	if rec.ReadAt != nil {
		at := *rec.ReadAt
		m.ReadAt = &at
	}
	return m
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
