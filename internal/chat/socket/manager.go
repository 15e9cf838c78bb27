// Package socket owns the real-time connection of one open ticket chat.
//
// A Manager holds at most one live websocket. Connect always closes the
// previous connection first. Inbound frames are read on one goroutine per
// connection and handed to subscribers synchronously, in arrival order.
// Sends made while no connection is open are dropped without error: there is
// no queue, no retry and no automatic reconnect.
//
// Connect keeps the registered subscribers; only Disconnect clears them.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

const writeTimeout = 10 * time.Second

type (
	MessageHandler  func(msg model.Message)
	DeleteHandler   func(messageID uint64)
	PresenceHandler func(operatorIDs []uint64)
)

// Dialer opens websocket connections; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Manager is the connection holder of one ticket view.
type Manager struct {
	baseURL string
	dialer  Dialer
	log     *logger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	ticketID uint64
	gen      uint64

	msgHandlers  []MessageHandler
	delHandlers  []DeleteHandler
	presHandlers []PresenceHandler
}

// NewManager returns a manager dialing the backend at baseURL
// (http://host:port or https://host:port).
func NewManager(baseURL string, dialer Dialer, log *logger.Logger) *Manager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{baseURL: baseURL, dialer: dialer, log: log.Named("socket")}
}

// TicketURL builds the socket endpoint of ticketID. The scheme follows the
// base URL: https becomes wss, anything else ws.
func TicketURL(baseURL string, ticketID uint64, credential string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("socket: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path.Join("/", u.Path, "api/support/ws", strconv.FormatUint(ticketID, 10))
	u.RawQuery = url.Values{"token": {credential}}.Encode()
	return u.String(), nil
}

// Connect closes any live connection and dials a new one for ticketID.
// Errors are logged and returned; the manager stays disconnected.
func (m *Manager) Connect(ctx context.Context, ticketID uint64, credential string) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.conn
	m.conn = nil
	m.ticketID = ticketID
	m.mu.Unlock()
	if old != nil {
		closeConn(old)
	}

	wsURL, err := TicketURL(m.baseURL, ticketID, credential)
	if err != nil {
		m.log.Error("bad socket url", zap.Error(err))
		return err
	}
	m.log.Debug("connecting", zap.Uint64("ticket_id", ticketID))
	conn, resp, err := m.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.log.Error("socket dial failed", zap.Uint64("ticket_id", ticketID), zap.Error(err))
		return fmt.Errorf("socket: dial ticket %d: %w", ticketID, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		// A newer Connect or a Disconnect happened while dialing.
		m.mu.Unlock()
		closeConn(conn)
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	m.log.Info("socket open", zap.Uint64("ticket_id", ticketID))
	go m.readLoop(conn, gen, ticketID)
	return nil
}

// Disconnect closes the live connection, if any, and drops every subscriber.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	old := m.conn
	m.conn = nil
	m.msgHandlers = nil
	m.delHandlers = nil
	m.presHandlers = nil
	m.mu.Unlock()
	if old != nil {
		closeConn(old)
		m.log.Info("socket closed", zap.Uint64("ticket_id", m.TicketID()))
	}
}

// Connected reports whether a connection is open and ready for writes.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// TicketID is the ticket of the last Connect call.
func (m *Manager) TicketID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticketID
}

func (m *Manager) OnMessage(h MessageHandler) {
	m.mu.Lock()
	m.msgHandlers = append(m.msgHandlers, h)
	m.mu.Unlock()
}

func (m *Manager) OnDelete(h DeleteHandler) {
	m.mu.Lock()
	m.delHandlers = append(m.delHandlers, h)
	m.mu.Unlock()
}

func (m *Manager) OnPresence(h PresenceHandler) {
	m.mu.Lock()
	m.presHandlers = append(m.presHandlers, h)
	m.mu.Unlock()
}

// SendMessage writes a send frame. replyTo 0 and media "" are omitted.
func (m *Manager) SendMessage(text string, replyTo uint64, media string) {
	m.write(model.OutboundMessage{Content: text, ReplyTo: replyTo, Media: media})
}

// DeleteMessage asks the backend to delete messageID.
func (m *Manager) DeleteMessage(messageID uint64) {
	m.write(model.OutboundDelete{DeleteID: messageID})
}

func (m *Manager) write(frame any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		m.log.Debug("dropping frame, socket not open")
		return
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := m.conn.WriteJSON(frame); err != nil {
		m.log.Warn("socket write error", zap.Error(err))
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen, ticketID uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.gen == gen
			if current {
				m.conn = nil
			}
			m.mu.Unlock()
			if current {
				// Nobody asked for this close.
				m.log.Warn("socket closed unexpectedly", zap.Uint64("ticket_id", ticketID), zap.Error(err))
				conn.Close()
			}
			return
		}
		m.dispatch(data, gen)
	}
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// handlers snapshots the subscriber lists, or reports false when gen is no
// longer the live connection.
func (m *Manager) handlers(gen uint64) ([]MessageHandler, []DeleteHandler, []PresenceHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil, nil, nil, false
	}
	return append([]MessageHandler(nil), m.msgHandlers...),
		append([]DeleteHandler(nil), m.delHandlers...),
		append([]PresenceHandler(nil), m.presHandlers...),
		true
}

func (m *Manager) dispatch(data []byte, gen uint64) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.Debug("ignoring malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case model.EventTicketMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.log.Debug("ignoring malformed message event", zap.Error(err))
			return
		}
		onMsg, _, _, ok := m.handlers(gen)
		if !ok {
			return
		}
		for _, h := range onMsg {
			h(msg)
		}
	case model.EventTicketDelete:
		var del model.DeletePayload
		if err := json.Unmarshal(env.Data, &del); err != nil {
			m.log.Debug("ignoring malformed delete event", zap.Error(err))
			return
		}
		_, onDel, _, ok := m.handlers(gen)
		if !ok {
			return
		}
		for _, h := range onDel {
			h(del.MessageID)
		}
	case model.EventTicketPresence:
		var ids []uint64
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			m.log.Debug("ignoring malformed presence event", zap.Error(err))
			return
		}
		_, _, onPres, ok := m.handlers(gen)
		if !ok {
			return
		}
		for _, h := range onPres {
			h(ids)
		}
	}
}

func closeConn(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
}
