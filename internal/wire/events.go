// Package wire defines the events and payloads exchanged over the persistent
// chat connection, and the JSON frame codec used to put them on the wire.
package wire

import "time"

// Client to server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkSeen          = "mark_seen"
)

// Server to client events.
const (
	EventUserOnline     = "user_online"
	EventUserOffline    = "user_offline"
	EventNewMessage     = "new_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventMessageError   = "message_error"
	EventMessagesSeen   = "messages_seen"
)

// Namespace is the bus namespace prefix under which inbound wire events are
// republished, e.g. "chat.new_message".
const Namespace = "chat."

// UserOnline announces that a user's client opened a connection.
type UserOnline struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UserOffline announces that a user's last connection closed.
type UserOffline struct {
	UserID int64 `json:"userId"`
}

// MessageRecord is the full server-assigned message record, pushed on
// new_message and returned by the history API.
type MessageRecord struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Username       string     `json:"username,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
}

// SendMessage is the outbound payload for send_message.
type SendMessage struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
}

// UserTyping announces that a user started composing in a joined
// conversation. The conversation is implied by the room the event was
// delivered to, so the payload carries no conversation id.
type UserTyping struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// UserStopTyping announces that a user stopped composing.
type UserStopTyping struct {
	UserID int64 `json:"userId"`
}

// MessageError reports a server-side send rejection.
type MessageError struct {
	Error string `json:"error"`
}

// MessagesSeen announces that a participant marked a conversation as seen.
type MessagesSeen struct {
	ConversationID int64     `json:"conversationId"`
	SeenByUserID   int64     `json:"seenByUserId"`
	SeenAt         time.Time `json:"seenAt"`
}
