package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T, wantPath string, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestOnlineUsers(t *testing.T) {
	srv := testServer(t, "/api/chat/users/online", http.StatusOK, map[string]any{
		"users": []map[string]any{
			{"id": 2, "username": "sasha", "first_name": "Sasha", "last_name": "P", "role": "worker", "is_online": true},
			{"id": 3, "username": "iryna", "is_online": false, "last_seen": "2026-08-28T09:00:00Z"},
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok")
	users, err := c.OnlineUsers(context.Background())
	if err != nil {
		t.Fatalf("OnlineUsers() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if !users[0].IsOnline || users[0].Username != "sasha" {
		t.Errorf("users[0] = %+v", users[0])
	}
	if users[1].LastSeen == nil {
		t.Error("users[1].LastSeen = nil, want timestamp")
	}
}

func TestConversations(t *testing.T) {
	srv := testServer(t, "/api/chat/conversations", http.StatusOK, map[string]any{
		"conversations": []map[string]any{
			{
				"id": 7, "other_user_id": 2, "other_username": "sasha",
				"other_is_online":      true,
				"last_message_content": "see you",
				"last_message_time":    "2026-08-29T08:00:00Z",
				"unread_count":         3,
			},
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok")
	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].UnreadCount != 3 || convs[0].OtherUserID != 2 {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]int64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["participantId"] != 2 {
			t.Errorf("body = %v, err = %v", body, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conversation": map[string]any{"id": 12},
			"participant":  map[string]any{"id": 2, "username": "sasha", "first_name": "Sasha"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	created, err := c.CreateConversation(context.Background(), 2)
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if created.Conversation.ID != 12 || created.Participant.Username != "sasha" {
		t.Errorf("created = %+v", created)
	}
}

func TestMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"id": 1, "conversation_id": 7, "sender_id": 2, "content": "hi", "message_type": "text", "created_at": "2026-08-29T07:00:00Z"},
				{"id": 2, "conversation_id": 7, "sender_id": 1, "content": "hello", "message_type": "text", "created_at": "2026-08-29T07:01:00Z"},
			},
			"hasMore": true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	msgs, hasMore, err := c.Messages(context.Background(), 7, 1, 50)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 || !hasMore {
		t.Errorf("got %d messages, hasMore=%v", len(msgs), hasMore)
	}
	if msgs[0].ID != 1 || msgs[1].Content != "hello" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestErrorResponse(t *testing.T) {
	srv := testServer(t, "/api/chat/conversations", http.StatusForbidden, map[string]string{
		"error": "Access denied to this conversation",
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok")
	if _, err := c.Conversations(context.Background()); err == nil {
		t.Error("expected error for 403 response")
	}
}
