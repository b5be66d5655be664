package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ovasylenko/chatline/internal/bus"
	"github.com/ovasylenko/chatline/internal/transport"
	"github.com/ovasylenko/chatline/internal/wire"
	"go.uber.org/zap"
)

// fakeTransport is a scriptable in-memory transport. Frames written by the
// "server" go into inbound; frames the client sends are recorded.
type fakeTransport struct {
	inbound chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.done:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer fails the first failDials attempts, then hands out fresh
// transports.
type fakeDialer struct {
	mu         sync.Mutex
	failDials  int
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failDials > 0 {
		d.failDials--
		return nil, errors.New("dial refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.transports) {
		return nil
	}
	return d.transports[i]
}

func newTestManager(d *fakeDialer, b *bus.Bus) *Manager {
	return NewManager(d, b, NewMachine(b), 5, 5*time.Millisecond, zap.NewNop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestConnectDeliversFramesToBus(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	ch, unsub := b.Subscribe(wire.Namespace, 16)
	defer unsub()

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer m.Disconnect()
	waitFor(t, "connected", func() bool { return m.State() == Connected })

	d.transport(0).inbound <- []byte(`{"event":"new_message","data":{"id":5,"conversation_id":2,"sender_id":9,"content":"hi","message_type":"text","created_at":"2026-08-29T10:00:00Z"}}`)

	select {
	case evt := <-ch:
		if evt.Kind != "chat.new_message" {
			t.Errorf("kind = %q, want chat.new_message", evt.Kind)
		}
		rec, ok := evt.Payload.(wire.MessageRecord)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if rec.ID != 5 || rec.ConversationID != 2 {
			t.Errorf("record = %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bus event")
	}
}

func TestMalformedFrameDoesNotDropConnection(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()
	waitFor(t, "connected", func() bool { return m.State() == Connected })

	d.transport(0).inbound <- []byte(`garbage`)
	time.Sleep(20 * time.Millisecond)

	if m.State() != Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
}

func TestSendWhileConnected(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()
	waitFor(t, "connected", func() bool { return m.State() == Connected })

	if err := m.Send(wire.EventMarkSeen, int64(7)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	tr := d.transport(0)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sent) != 1 || string(tr.sent[0]) != `{"event":"mark_seen","data":7}` {
		t.Errorf("sent = %q", tr.sent)
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	m := newTestManager(&fakeDialer{}, bus.New(nil))
	if err := m.Send(wire.EventMarkSeen, int64(7)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectWhileConnectedTearsDownPrior(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first connect", func() bool { return m.State() == Connected })

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	defer m.Disconnect()
	waitFor(t, "second connect", func() bool {
		return m.State() == Connected && d.dialCount() == 2
	})

	if !d.transport(0).isClosed() {
		t.Error("first transport was not closed by the second Connect")
	}
}

// TestDropReconnectsAndRecovers drops the transport mid-session and verifies
// the manager redials and returns to CONNECTED.
func TestDropReconnectsAndRecovers(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	var mu sync.Mutex
	var states []State
	defer b.On(EventStatusChanged, func(evt bus.Event) {
		mu.Lock()
		states = append(states, evt.Payload.(StatusChange).To)
		mu.Unlock()
	})()

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()
	waitFor(t, "connected", func() bool { return m.State() == Connected })

	d.transport(0).Close()
	waitFor(t, "reconnected", func() bool { return d.dialCount() == 2 && m.State() == Connected })

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Reconnecting, Connected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

// TestBoundedRetriesThenDisconnected drops the connection with the dialer
// refusing every redial: after 5 failed attempts at the fixed delay the
// manager must settle in DISCONNECTED, publish conn.lost, and stop retrying
// until a manual Connect.
func TestBoundedRetriesThenDisconnected(t *testing.T) {
	b := bus.New(nil)
	d := &fakeDialer{}
	m := newTestManager(d, b)

	lost := make(chan struct{}, 1)
	defer b.On(EventLost, func(bus.Event) { lost <- struct{}{} })()

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connected", func() bool { return m.State() == Connected })

	d.mu.Lock()
	d.failDials = 1 << 20 // refuse everything from now on
	d.mu.Unlock()
	d.transport(0).Close()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for conn.lost")
	}
	if m.State() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}

	// 1 initial dial + 5 bounded retries, then nothing further.
	if got := d.dialCount(); got != 6 {
		t.Errorf("dial count = %d, want 6", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 6 {
		t.Errorf("dial count after settle = %d, want 6 (no automatic retries)", got)
	}
}
