// Package typing tracks who is composing in which conversation, on both
// sides of the wire: debounced typing_start/typing_stop for the local user,
// and a per-conversation map of remote composers fed by user_typing events.
package typing

import (
	"sync"
	"time"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// EventChanged is published whenever the set of remote composers for a
// conversation changes.
const EventChanged = "typing.changed"

// Change is the payload of typing.changed.
type Change struct {
	ConversationID int64
}

// staleAfter bounds how long a remote composer stays in the map when the
// explicit stop event is lost.
const staleAfter = 5 * time.Second

// Sender is the outbound side of the persistent connection.
type Sender interface {
	Send(event string, payload any) error
}

type composer struct {
	name   string
	expiry *time.Timer
}

// Manager owns the typing state for all conversations. The inbound
// user_typing event carries no conversation id (it is scoped to the joined
// room), so remote composers are attributed to the active conversation.
type Manager struct {
	mu        sync.Mutex
	remote    map[int64]map[int64]*composer
	active    int64
	composing bool
	debounce  *time.Timer

	self   int64
	conn   Sender
	bus    *bus.Bus
	logger *zap.Logger
	window time.Duration
}

// NewManager creates a typing manager for the given local user id. window is
// the keystroke debounce interval.
func NewManager(self int64, conn Sender, b *bus.Bus, window time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		remote: make(map[int64]map[int64]*composer),
		self:   self,
		conn:   conn,
		bus:    b,
		logger: logger,
		window: window,
	}
}

// Attach subscribes the manager to inbound typing events. Returns a cancel
// function.
func (m *Manager) Attach(b *bus.Bus) func() {
	offStart := b.On(wire.Namespace+wire.EventUserTyping, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserTyping); ok {
			m.remoteStarted(p.UserID, p.Username)
		}
	})
	offStop := b.On(wire.Namespace+wire.EventUserStopTyping, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserStopTyping); ok {
			m.remoteStopped(p.UserID)
		}
	})
	return func() {
		offStart()
		offStop()
	}
}

// SetActive switches the conversation that local keystrokes and inbound
// room-scoped typing events belong to. An in-flight local typing session is
// stopped first so the old room does not show us composing forever.
func (m *Manager) SetActive(conversationID int64) {
	m.StopNow()
	m.mu.Lock()
	m.active = conversationID
	m.mu.Unlock()
}

// Keystroke records local input. The first keystroke after an idle period
// puts typing_start on the wire; each one resets the debounce timer, and
// typing_stop goes out when the timer elapses with no further input.
func (m *Manager) Keystroke() {
	m.mu.Lock()
	conv := m.active
	if conv == 0 {
		m.mu.Unlock()
		return
	}
	first := !m.composing
	m.composing = true
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(m.window, m.debounceElapsed)
	m.mu.Unlock()

	if first {
		if err := m.conn.Send(wire.EventTypingStart, conv); err != nil {
			m.logger.Debug("typing_start not sent", zap.Error(err))
		}
	}
}

// StopNow ends the local typing session immediately, e.g. when a message is
// sent. No-op when not composing.
func (m *Manager) StopNow() {
	m.mu.Lock()
	if !m.composing {
		m.mu.Unlock()
		return
	}
	m.composing = false
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	conv := m.active
	m.mu.Unlock()

	if err := m.conn.Send(wire.EventTypingStop, conv); err != nil {
		m.logger.Debug("typing_stop not sent", zap.Error(err))
	}
}

// Stop cancels all timers. Remote state is left as is.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composing = false
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	for _, convMap := range m.remote {
		for _, c := range convMap {
			c.expiry.Stop()
		}
	}
}

// TypingUsers returns the display names of remote users currently composing
// in the conversation. The local user is filtered out here, at read time, so
// the same map serves consumers that need the raw view.
func (m *Manager) TypingUsers(conversationID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	convMap := m.remote[conversationID]
	out := make([]string, 0, len(convMap))
	for userID, c := range convMap {
		if userID == m.self {
			continue
		}
		out = append(out, c.name)
	}
	return out
}

func (m *Manager) debounceElapsed() {
	m.mu.Lock()
	if !m.composing {
		m.mu.Unlock()
		return
	}
	m.composing = false
	m.debounce = nil
	conv := m.active
	m.mu.Unlock()

	if err := m.conn.Send(wire.EventTypingStop, conv); err != nil {
		m.logger.Debug("typing_stop not sent", zap.Error(err))
	}
}

func (m *Manager) remoteStarted(userID int64, username string) {
	m.mu.Lock()
	conv := m.active
	if conv == 0 {
		m.mu.Unlock()
		return
	}
	convMap := m.remote[conv]
	if convMap == nil {
		convMap = make(map[int64]*composer)
		m.remote[conv] = convMap
	}
	if existing, ok := convMap[userID]; ok {
		existing.name = username
		existing.expiry.Reset(staleAfter)
		m.mu.Unlock()
		return
	}
	convMap[userID] = &composer{
		name:   username,
		expiry: time.AfterFunc(staleAfter, func() { m.expireRemote(conv, userID) }),
	}
	m.mu.Unlock()

	m.emitChanged(conv)
}

func (m *Manager) remoteStopped(userID int64) {
	m.mu.Lock()
	conv := m.active
	convMap := m.remote[conv]
	c, ok := convMap[userID]
	if ok {
		c.expiry.Stop()
		delete(convMap, userID)
	}
	m.mu.Unlock()

	if ok {
		m.emitChanged(conv)
	}
}

// expireRemote drops a remote composer whose stop event never arrived.
func (m *Manager) expireRemote(conversationID, userID int64) {
	m.mu.Lock()
	convMap := m.remote[conversationID]
	_, ok := convMap[userID]
	if ok {
		delete(convMap, userID)
	}
	m.mu.Unlock()

	if ok {
		m.emitChanged(conversationID)
	}
}

func (m *Manager) emitChanged(conversationID int64) {
	m.bus.Emit(bus.Event{
		Kind:      EventChanged,
		Timestamp: time.Now(),
		Payload:   Change{ConversationID: conversationID},
	})
}
