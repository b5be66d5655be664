// Package api is the client for the collaborator REST API that owns users,
// conversations and message history. The realtime core consumes it; it is
// not the system of record for anything in this module.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ovasylenko/chatline/internal/wire"
)

// Client calls the collaborator API with a bearer token. It never validates
// or refreshes the token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates an API client rooted at base, e.g.
// "https://crm.example.com/api".
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// OnlineUser is one row of the online users listing.
type OnlineUser struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      string     `json:"role"`
	IsOnline  bool       `json:"is_online"`
	LastSeen  *time.Time `json:"last_seen"`
}

// ConversationSummary is one row of the conversation listing, including the
// last-message preview and the server-computed unread count.
type ConversationSummary struct {
	ID                 int64      `json:"id"`
	OtherUserID        int64      `json:"other_user_id"`
	OtherUsername      string     `json:"other_username"`
	OtherFirstName     string     `json:"other_first_name"`
	OtherLastName      string     `json:"other_last_name"`
	OtherIsOnline      bool       `json:"other_is_online"`
	LastMessageContent string     `json:"last_message_content"`
	LastMessageTime    *time.Time `json:"last_message_time"`
	UnreadCount        int        `json:"unread_count"`
}

// Participant describes the other user of a freshly created conversation.
type Participant struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// CreatedConversation is the create-conversation response.
type CreatedConversation struct {
	Conversation struct {
		ID int64 `json:"id"`
	} `json:"conversation"`
	Participant Participant `json:"participant"`
}

// OnlineUsers lists all known users with their presence, online-first.
func (c *Client) OnlineUsers(ctx context.Context) ([]OnlineUser, error) {
	var out struct {
		Users []OnlineUser `json:"users"`
	}
	if err := c.get(ctx, "/chat/users/online", &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// Conversations lists the current user's conversations, most recent first.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := c.get(ctx, "/chat/conversations", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation gets or creates the pair conversation with the given
// participant.
func (c *Client) CreateConversation(ctx context.Context, participantID int64) (*CreatedConversation, error) {
	body, err := json.Marshal(map[string]int64{"participantId": participantID})
	if err != nil {
		return nil, err
	}
	var out CreatedConversation
	if err := c.do(ctx, http.MethodPost, "/chat/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches one page of message history for a conversation, in
// chronological order. hasMore reports whether older pages exist.
func (c *Client) Messages(ctx context.Context, conversationID int64, page, limit int) (msgs []wire.MessageRecord, hasMore bool, err error) {
	var out struct {
		Messages []wire.MessageRecord `json:"messages"`
		HasMore  bool                 `json:"hasMore"`
	}
	path := fmt.Sprintf("/chat/conversations/%d/messages?page=%d&limit=%d", conversationID, page, limit)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, false, err
	}
	return out.Messages, out.HasMore, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
