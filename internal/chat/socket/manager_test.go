package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psds-microservice/support-chat/internal/model"
)

const waitFor = 2 * time.Second

type serverConn struct {
	ticket string
	token  string
	conn   *websocket.Conn
	closed chan struct{}
}

type frame struct {
	ticket string
	raw    []byte
}

type fakeBackend struct {
	srv      *httptest.Server
	accepted chan *serverConn
	frames   chan frame
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		accepted: make(chan *serverConn, 16),
		frames:   make(chan frame, 64),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/support/ws/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{
			ticket: strings.TrimPrefix(r.URL.Path, "/api/support/ws/"),
			token:  r.URL.Query().Get("token"),
			conn:   conn,
			closed: make(chan struct{}),
		}
		b.accepted <- sc
		defer close(sc.closed)
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.frames <- frame{ticket: sc.ticket, raw: raw}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) nextConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-b.accepted:
		return sc
	case <-time.After(waitFor):
		t.Fatalf("no connection accepted")
		return nil
	}
}

func (b *fakeBackend) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(waitFor):
		t.Fatalf("no frame received")
		return frame{}
	}
}

func (sc *serverConn) push(t *testing.T, event string, data any) {
	t.Helper()
	if err := sc.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("push %s: %v", event, err)
	}
}

func (sc *serverConn) pushRaw(t *testing.T, raw string) {
	t.Helper()
	if err := sc.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("push raw: %v", err)
	}
}

func waitClosed(t *testing.T, sc *serverConn) {
	t.Helper()
	select {
	case <-sc.closed:
	case <-time.After(waitFor):
		t.Fatalf("connection for ticket %s was not closed", sc.ticket)
	}
}

func assertOpen(t *testing.T, sc *serverConn) {
	t.Helper()
	select {
	case <-sc.closed:
		t.Fatalf("connection for ticket %s unexpectedly closed", sc.ticket)
	default:
	}
}

// barrier registers a presence subscriber and returns a function that pushes
// a presence frame and waits for it. Frames are dispatched in arrival order,
// so once the barrier fires every earlier frame has been handled.
func barrier(t *testing.T, m *Manager, sc *serverConn) func() {
	t.Helper()
	seen := make(chan struct{}, 8)
	m.OnPresence(func([]uint64) { seen <- struct{}{} })
	return func() {
		t.Helper()
		sc.push(t, model.EventTicketPresence, []uint64{})
		select {
		case <-seen:
		case <-time.After(waitFor):
			t.Fatalf("barrier presence event not delivered")
		}
	}
}

func connect(t *testing.T, m *Manager, ticketID uint64, token string) {
	t.Helper()
	if err := m.Connect(context.Background(), ticketID, token); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestTicketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8097", "ws://localhost:8097/api/support/ws/12?token=a+b%26c"},
		{"https://support.example.com", "wss://support.example.com/api/support/ws/12?token=a+b%26c"},
		{"https://example.com/support-backend", "wss://example.com/support-backend/api/support/ws/12?token=a+b%26c"},
		{"http://localhost:8097/", "ws://localhost:8097/api/support/ws/12?token=a+b%26c"},
	}
	for _, tt := range tests {
		got, err := TicketURL(tt.base, 12, "a b&c")
		if err != nil {
			t.Fatalf("TicketURL(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Fatalf("TicketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConnectTwiceLeavesOneConnection(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	connect(t, m, 1, "tok")
	first := b.nextConn(t)
	connect(t, m, 2, "tok")
	second := b.nextConn(t)

	waitClosed(t, first)
	assertOpen(t, second)
	if second.ticket != "2" || second.token != "tok" {
		t.Fatalf("unexpected second connection: ticket=%s token=%s", second.ticket, second.token)
	}
	if !m.Connected() || m.TicketID() != 2 {
		t.Fatalf("expected manager connected to ticket 2, got connected=%v ticket=%d", m.Connected(), m.TicketID())
	}
}

func TestDisconnectThenConnect(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	connect(t, m, 5, "tok")
	first := b.nextConn(t)
	m.Disconnect()
	waitClosed(t, first)
	if m.Connected() {
		t.Fatalf("expected disconnected manager")
	}

	connect(t, m, 6, "tok")
	second := b.nextConn(t)
	assertOpen(t, second)
	if second.ticket != "6" {
		t.Fatalf("expected connection scoped to ticket 6, got %s", second.ticket)
	}
}

func TestDisconnectWhenIdleIsNoop(t *testing.T) {
	m := NewManager("http://127.0.0.1:1", nil, nil)
	m.Disconnect()
	m.Disconnect()
	if m.Connected() {
		t.Fatalf("expected disconnected manager")
	}
}

func TestMessageSubscribersRunInRegistrationOrder(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	var mu sync.Mutex
	var calls []string
	m.OnMessage(func(msg model.Message) {
		mu.Lock()
		calls = append(calls, "first:"+msg.Content)
		mu.Unlock()
	})
	m.OnMessage(func(msg model.Message) {
		mu.Lock()
		calls = append(calls, "second:"+msg.Content)
		mu.Unlock()
	})

	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	wait := barrier(t, m, sc)

	sc.push(t, model.EventTicketMessage, model.Message{ID: 1, SenderID: 3, Content: "hi"})
	wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first:hi", "second:hi"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestUnknownAndMalformedFramesIgnored(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	var mu sync.Mutex
	var got []uint64
	m.OnMessage(func(msg model.Message) {
		mu.Lock()
		got = append(got, msg.ID)
		mu.Unlock()
	})
	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	wait := barrier(t, m, sc)

	sc.pushRaw(t, "not json at all")
	sc.push(t, "support:ticket_closed", map[string]any{"ticket_id": 1})
	sc.push(t, "support:something_else", model.Message{ID: 99})
	sc.push(t, model.EventTicketMessage, model.Message{ID: 7})
	wait()

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []uint64{7}) {
		t.Fatalf("expected only message 7, got %v", got)
	}
}

func TestPresenceIsReplacedWholesale(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	updates := make(chan []uint64, 4)
	m.OnPresence(func(ids []uint64) { updates <- ids })
	connect(t, m, 1, "tok")
	sc := b.nextConn(t)

	sc.push(t, model.EventTicketPresence, []uint64{5, 9})
	sc.push(t, model.EventTicketPresence, []uint64{9})

	for _, want := range [][]uint64{{5, 9}, {9}} {
		select {
		case got := <-updates:
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("presence = %v, want %v", got, want)
			}
		case <-time.After(waitFor):
			t.Fatalf("presence update %v not delivered", want)
		}
	}
}

func TestDeleteEventDispatch(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	deleted := make(chan uint64, 1)
	m.OnDelete(func(id uint64) { deleted <- id })
	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	sc.push(t, model.EventTicketDelete, model.DeletePayload{MessageID: 12})

	select {
	case id := <-deleted:
		if id != 12 {
			t.Fatalf("deleted id = %d, want 12", id)
		}
	case <-time.After(waitFor):
		t.Fatalf("delete not delivered")
	}
}

func decodeFrame(t *testing.T, f frame) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(f.raw, &out); err != nil {
		t.Fatalf("decode frame %q: %v", f.raw, err)
	}
	return out
}

func TestOutboundFrames(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()
	connect(t, m, 3, "tok")
	b.nextConn(t)

	m.SendMessage("hello", 42, "")
	got := decodeFrame(t, b.nextFrame(t))
	want := map[string]any{"content": "hello", "reply_to": float64(42)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("send frame = %v, want %v", got, want)
	}

	m.SendMessage("look", 0, "data:image/png;base64,AAAA")
	got = decodeFrame(t, b.nextFrame(t))
	want = map[string]any{"content": "look", "media": "data:image/png;base64,AAAA"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("media frame = %v, want %v", got, want)
	}

	m.DeleteMessage(7)
	got = decodeFrame(t, b.nextFrame(t))
	want = map[string]any{"delete_id": float64(7)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delete frame = %v, want %v", got, want)
	}
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	m.SendMessage("never connected", 0, "")
	m.DeleteMessage(1)

	connect(t, m, 1, "tok")
	first := b.nextConn(t)
	m.Disconnect()
	waitClosed(t, first)
	m.SendMessage("after disconnect", 0, "")

	connect(t, m, 1, "tok")
	b.nextConn(t)
	m.SendMessage("live", 0, "")

	got := decodeFrame(t, b.nextFrame(t))
	if got["content"] != "live" {
		t.Fatalf("expected only the live frame to arrive, got %v", got)
	}
}

// Connect keeps subscribers registered before it; a reconnect therefore
// still delivers to them.
func TestConnectKeepsSubscribers(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	got := make(chan uint64, 4)
	m.OnMessage(func(msg model.Message) { got <- msg.ID })

	connect(t, m, 1, "tok")
	b.nextConn(t)
	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	sc.push(t, model.EventTicketMessage, model.Message{ID: 31})

	select {
	case id := <-got:
		if id != 31 {
			t.Fatalf("got message %d, want 31", id)
		}
	case <-time.After(waitFor):
		t.Fatalf("subscriber registered before reconnect was not called")
	}
}

func TestDisconnectClearsSubscribers(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	var mu sync.Mutex
	stale := 0
	m.OnMessage(func(model.Message) {
		mu.Lock()
		stale++
		mu.Unlock()
	})
	connect(t, m, 1, "tok")
	b.nextConn(t)
	m.Disconnect()

	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	wait := barrier(t, m, sc)
	sc.push(t, model.EventTicketMessage, model.Message{ID: 1})
	wait()

	mu.Lock()
	defer mu.Unlock()
	if stale != 0 {
		t.Fatalf("subscriber cleared by Disconnect was called %d times", stale)
	}
}

func TestServerCloseIsNotRetried(t *testing.T) {
	b := newFakeBackend(t)
	m := NewManager(b.srv.URL, nil, nil)
	defer m.Disconnect()

	connect(t, m, 1, "tok")
	sc := b.nextConn(t)
	sc.conn.Close()

	deadline := time.Now().Add(waitFor)
	for m.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("manager still reports a live connection after server close")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-b.accepted:
		t.Fatalf("manager reconnected on its own")
	case <-time.After(100 * time.Millisecond):
	}
	m.SendMessage("dropped", 0, "")
}

func TestConnectDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := NewManager(srv.URL, nil, nil)
	if err := m.Connect(context.Background(), 1, "tok"); err == nil {
		t.Fatalf("expected dial against non-websocket endpoint to fail")
	}
	if m.Connected() {
		t.Fatalf("expected manager to stay disconnected")
	}
}
