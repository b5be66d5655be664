// Package conn owns the single persistent connection of a session: its
// lifecycle state machine, the bounded reconnect schedule, and the pumps
// that move frames between the wire and the event bus.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/transport"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// Bus event kinds published by the connection manager.
const (
	EventStatusChanged = "conn.status_changed"
	EventLost          = "conn.lost"
)

// ErrNotConnected is returned by Send when no transport is up.
var ErrNotConnected = errors.New("not connected")

// Manager owns the persistent connection. Exactly one transport is active at
// a time; Connect while connected tears the prior transport down first.
type Manager struct {
	dialer  transport.Dialer
	bus     *bus.Bus
	machine *Machine
	logger  *zap.Logger

	maxAttempts int
	retryDelay  time.Duration

	mu        sync.Mutex
	transport transport.Transport
	cancel    context.CancelFunc
}

// NewManager creates a connection manager. maxAttempts bounds the reconnect
// retries after a failure; retryDelay is the fixed inter-attempt delay.
func NewManager(d transport.Dialer, b *bus.Bus, m *Machine, maxAttempts int, retryDelay time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		dialer:      d,
		bus:         b,
		machine:     m,
		logger:      logger,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Connect establishes the connection, tearing down any prior one first. The
// initial dial and any retries run in the background; progress is observable
// through conn.status_changed events.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.teardown()

	if err := m.machine.Transition(Connecting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx, token)
	return nil
}

// Disconnect cleanly closes the connection. Idempotent.
func (m *Manager) Disconnect() {
	m.teardown()
}

// Send encodes and writes one outbound event. Fire-and-forget: the caller
// never waits for a server response, only for the local write.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}

	data, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.Send(ctx, data)
}

// teardown cancels the running connection loop, closes the transport and
// settles the machine in Disconnected.
func (m *Manager) teardown() {
	m.mu.Lock()
	cancel := m.cancel
	t := m.transport
	m.cancel = nil
	m.transport = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		_ = t.Close()
	}
	if cur := m.machine.Current(); cur != Disconnected {
		_ = m.machine.Transition(Disconnected)
	}
}

// run drives the connection until the context is cancelled or the retry
// budget is exhausted.
func (m *Manager) run(ctx context.Context, token string) {
	t, err := m.dialer.Dial(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("initial dial failed", zap.Error(err))
		_ = m.machine.Transition(Reconnecting)
		t = m.redial(ctx, token)
		if t == nil {
			return
		}
	}

	for {
		m.attach(t)
		if ctx.Err() != nil {
			m.detach(t)
			return
		}
		_ = m.machine.Transition(Connected)
		m.logger.Info("connected")

		err := m.readLoop(ctx, t)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("connection dropped", zap.Error(err))
		m.detach(t)
		_ = m.machine.Transition(Reconnecting)

		t = m.redial(ctx, token)
		if t == nil {
			return
		}
	}
}

// redial retries the dial with a fixed delay, up to maxAttempts times.
// Returns nil after exhausting the budget (or cancellation), leaving the
// machine Disconnected and publishing conn.lost.
func (m *Manager) redial(ctx context.Context, token string) transport.Transport {
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return nil
		}

		t, err := m.dialer.Dial(ctx, token)
		if err == nil {
			return t
		}
		if ctx.Err() != nil {
			return nil
		}
		m.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.maxAttempts),
			zap.Error(err),
		)
	}

	_ = m.machine.Transition(Disconnected)
	m.bus.Emit(bus.Event{Kind: EventLost, Timestamp: time.Now()})
	return nil
}

func (m *Manager) attach(t transport.Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

func (m *Manager) detach(t transport.Transport) {
	m.mu.Lock()
	if m.transport == t {
		m.transport = nil
	}
	m.mu.Unlock()
	_ = t.Close()
}

// readLoop pumps inbound frames onto the bus until the transport fails.
// Decode failures are logged and skipped; they do not drop the connection.
func (m *Manager) readLoop(ctx context.Context, t transport.Transport) error {
	for {
		raw, err := t.Receive(ctx)
		if err != nil {
			return err
		}

		f, err := wire.Decode(raw)
		if err != nil {
			m.logger.Warn("skipping malformed frame", zap.Error(err))
			continue
		}
		payload, err := wire.ParsePayload(f)
		if err != nil {
			m.logger.Warn("skipping frame", zap.String("event", f.Event), zap.Error(err))
			continue
		}

		m.bus.Emit(bus.Event{
			Kind:      wire.Namespace + f.Event,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}
