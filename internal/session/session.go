// Package session composes the chat components into one running client
// session and coordinates the actions that touch more than one of them,
// such as opening a conversation or sending a message.
package session

import (
	"context"
	"fmt"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/conn"
	"github.com/ovasylenko/chatline/internal/directory"
	"github.com/ovasylenko/chatline/internal/identity"
	"github.com/ovasylenko/chatline/internal/presence"
	"github.com/ovasylenko/chatline/internal/receipt"
	intsync "github.com/ovasylenko/chatline/internal/sync"
	"github.com/ovasylenko/chatline/internal/typing"
	"go.uber.org/zap"
)

// Session is the top-level client object. The feature components never call
// each other; the session is the only place their operations are sequenced.
type Session struct {
	user     identity.User
	token    string
	bus      *bus.Bus
	conn     *conn.Manager
	presence *presence.Tracker
	dir      *directory.Directory
	engine   *intsync.Engine
	typing   *typing.Manager
	receipts *receipt.Synchronizer
	logger   *zap.Logger

	detach []func()
}

// NewSession wires the components together. Attach subscriptions are
// registered here, in a fixed order, so inbound events always reach the
// presence tracker before the directory and the directory before the log.
func NewSession(
	user identity.User,
	token string,
	b *bus.Bus,
	cm *conn.Manager,
	tracker *presence.Tracker,
	dir *directory.Directory,
	engine *intsync.Engine,
	tm *typing.Manager,
	rs *receipt.Synchronizer,
	logger *zap.Logger,
) *Session {
	s := &Session{
		user:     user,
		token:    token,
		bus:      b,
		conn:     cm,
		presence: tracker,
		dir:      dir,
		engine:   engine,
		typing:   tm,
		receipts: rs,
		logger:   logger,
	}
	s.detach = []func(){
		tracker.Attach(b),
		dir.Attach(b),
		engine.Attach(b),
		tm.Attach(b),
		rs.Attach(b),
	}
	return s
}

// Start opens the persistent connection and primes the presence list and
// conversation directory from the collaborator API. The connection keeps
// retrying in the background; a failed initial load is returned so the
// caller can decide whether to run degraded.
func (s *Session) Start(ctx context.Context) error {
	if err := s.conn.Connect(ctx, s.token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := s.presence.Load(ctx); err != nil {
		return fmt.Errorf("load online users: %w", err)
	}
	if err := s.dir.Load(ctx); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	s.logger.Info("session started",
		zap.Int64("user_id", s.user.ID),
		zap.String("username", s.user.Username),
	)
	return nil
}

// Close stops timers, detaches all bus subscriptions and drops the
// connection.
func (s *Session) Close() {
	s.typing.Stop()
	s.engine.Stop()
	s.conn.Disconnect()
	for _, off := range s.detach {
		off()
	}
	s.logger.Info("session closed")
}

// User returns the authenticated local user.
func (s *Session) User() identity.User {
	return s.user
}

// OpenWith opens (or creates) the one-to-one conversation with the given
// user and activates it.
func (s *Session) OpenWith(ctx context.Context, otherUserID int64) (directory.Conversation, error) {
	c, err := s.dir.OpenOrCreate(ctx, otherUserID)
	if err != nil {
		return directory.Conversation{}, err
	}
	if err := s.ActivateConversation(ctx, c.ID); err != nil {
		return directory.Conversation{}, err
	}
	return c, nil
}

// ActivateConversation makes a conversation the current one: joins its room
// and loads history, marks it seen, and points local typing at it.
func (s *Session) ActivateConversation(ctx context.Context, conversationID int64) error {
	if err := s.engine.Activate(ctx, conversationID); err != nil {
		return err
	}
	s.receipts.MarkSeen(conversationID)
	s.typing.SetActive(conversationID)
	return nil
}

// CloseConversation leaves the active conversation, ending any typing
// session first.
func (s *Session) CloseConversation() {
	s.typing.SetActive(0)
	s.engine.Deactivate()
}

// SendText sends a message to the active conversation. The local typing
// session ends immediately, matching what the peer sees.
func (s *Session) SendText(content string) (string, error) {
	conv := s.engine.Active()
	if conv == 0 {
		return "", intsync.ErrNoActiveConversation
	}
	s.typing.StopNow()
	return s.engine.SendText(conv, content, "text")
}

// Keystroke records local composing input for the active conversation.
func (s *Session) Keystroke() {
	s.typing.Keystroke()
}

// MarkActiveSeen re-reports the active conversation as seen, e.g. when new
// messages arrive while it is on screen.
func (s *Session) MarkActiveSeen() {
	if conv := s.engine.Active(); conv != 0 {
		s.receipts.MarkSeen(conv)
	}
}

// Conversations returns the directory in recency order.
func (s *Session) Conversations() []directory.Conversation {
	return s.dir.List()
}

// OnlineUsers returns the current presence snapshot.
func (s *Session) OnlineUsers() []presence.Entry {
	return s.presence.Snapshot()
}

// Messages returns the active or given conversation's log.
func (s *Session) Messages(conversationID int64) []intsync.Message {
	return s.engine.Messages(conversationID)
}

// TypingUsers returns who is composing in the conversation, excluding the
// local user.
func (s *Session) TypingUsers(conversationID int64) []string {
	return s.typing.TypingUsers(conversationID)
}

// Status returns the connection state.
func (s *Session) Status() conn.State {
	return s.conn.State()
}
