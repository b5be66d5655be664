// Package presence maintains the set of known users and whether each one
// currently holds an open connection.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ovasylenko/chatline/internal/api"
	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// Entry is the presence record for one user. Entries are updated in place
// and never removed once seen.
type Entry struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Role      string
	IsOnline  bool
	LastSeen  time.Time
}

// UserLister is the slice of the collaborator API the tracker needs.
type UserLister interface {
	OnlineUsers(ctx context.Context) ([]api.OnlineUser, error)
}

// Tracker holds presence entries and keeps them current from wire events.
type Tracker struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	api     UserLister
	logger  *zap.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(lister UserLister, logger *zap.Logger) *Tracker {
	return &Tracker{
		entries: make(map[int64]*Entry),
		api:     lister,
		logger:  logger,
	}
}

// Attach subscribes the tracker to presence wire events. Returns a cancel
// function.
func (t *Tracker) Attach(b *bus.Bus) func() {
	offOnline := b.On(wire.Namespace+wire.EventUserOnline, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserOnline); ok {
			t.setOnline(p)
		}
	})
	offOffline := b.On(wire.Namespace+wire.EventUserOffline, func(evt bus.Event) {
		if p, ok := evt.Payload.(wire.UserOffline); ok {
			t.setOffline(p.UserID)
		}
	})
	return func() {
		offOnline()
		offOffline()
	}
}

func (t *Tracker) setOnline(p wire.UserOnline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[p.UserID]
	if !ok {
		t.entries[p.UserID] = &Entry{
			UserID:    p.UserID,
			Username:  p.Username,
			FirstName: p.FirstName,
			LastName:  p.LastName,
			IsOnline:  true,
		}
		return
	}
	e.Username = p.Username
	e.FirstName = p.FirstName
	e.LastName = p.LastName
	e.IsOnline = true
}

func (t *Tracker) setOffline(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	if !ok {
		// Never saw this user online; remember the offline sighting anyway.
		t.entries[userID] = &Entry{UserID: userID, LastSeen: time.Now()}
		return
	}
	e.IsOnline = false
	e.LastSeen = time.Now()
}

// IsOnline reports whether the given user currently has an open connection.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	return ok && e.IsOnline
}

// Snapshot returns copies of all known entries, online users first, then by
// most recent last-seen. This matches the ordering of the collaborator's
// user listing.
func (t *Tracker) Snapshot() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsOnline != out[j].IsOnline {
			return out[i].IsOnline
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Load pulls the full user list from the collaborator API and merges it in.
// Presence is fetched lazily: nothing calls Load until a host actually needs
// the user list.
func (t *Tracker) Load(ctx context.Context) error {
	users, err := t.api.OnlineUsers(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range users {
		e, ok := t.entries[u.ID]
		if !ok {
			e = &Entry{UserID: u.ID}
			t.entries[u.ID] = e
		}
		e.Username = u.Username
		e.FirstName = u.FirstName
		e.LastName = u.LastName
		e.Role = u.Role
		e.IsOnline = u.IsOnline
		if u.LastSeen != nil {
			e.LastSeen = *u.LastSeen
		}
	}
	t.logger.Info("presence loaded", zap.Int("users", len(users)))
	return nil
}
