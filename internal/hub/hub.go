// Package hub keeps the live ticket rooms of the backend and fans events out
// to every socket joined to a ticket.
package hub

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
	"github.com/psds-microservice/support-chat/pkg/metrics"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is one socket. Writes go through send and are done by WritePump only.
type Client struct {
	TicketID uint64
	Viewer   access.Viewer

	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewClient(conn *websocket.Conn, ticketID uint64, viewer access.Viewer) *Client {
	return &Client{
		TicketID: ticketID,
		Viewer:   viewer,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// Outbox exposes the queued frames to readers other than WritePump.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// PreparePong installs the read deadline handling that pairs with WritePump pings.
func (c *Client) PreparePong(readLimit int64) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// WritePump drains send to the socket until the hub closes it.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[uint64]map[*Client]struct{}
	queue map[*Client]struct{}
	log   *logger.Logger
}

func New(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		rooms: make(map[uint64]map[*Client]struct{}),
		queue: make(map[*Client]struct{}),
		log:   log.Named("hub"),
	}
}

// Join adds c to its ticket room and announces the new presence set.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.TicketID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[c.TicketID] = room
	}
	room[c] = struct{}{}
	size := len(room)
	h.mu.Unlock()

	metrics.IncrementTicketSockets()
	h.log.Debug("joined", zap.Uint64("ticket_id", c.TicketID), zap.Uint64("user_id", c.Viewer.ID), zap.Int("room", size))
	h.broadcastPresence(c.TicketID)
}

// Leave removes c, stops its writer and announces the new presence set.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.TicketID]
	if ok {
		if _, in := room[c]; !in {
			ok = false
		}
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.TicketID)
		}
	}
	h.mu.Unlock()
	c.closeSend()
	if !ok {
		return
	}

	metrics.DecrementTicketSockets()
	h.log.Debug("left", zap.Uint64("ticket_id", c.TicketID), zap.Uint64("user_id", c.Viewer.ID))
	h.broadcastPresence(c.TicketID)
}

// Presence lists the staff ids connected to ticketID, sorted and without repeats.
func (h *Hub) Presence(ticketID uint64) []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[uint64]struct{})
	ids := make([]uint64, 0)
	for c := range h.rooms[ticketID] {
		if !c.Viewer.Role.Staff() {
			continue
		}
		if _, dup := seen[c.Viewer.ID]; dup {
			continue
		}
		seen[c.Viewer.ID] = struct{}{}
		ids = append(ids, c.Viewer.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Hub) broadcastPresence(ticketID uint64) {
	h.Broadcast(ticketID, model.EventTicketPresence, h.Presence(ticketID))
}

// Broadcast sends {event, data} to every socket of ticketID. Slow sockets
// whose buffer is full miss the event.
func (h *Hub) Broadcast(ticketID uint64, event string, data any) {
	payload, err := json.Marshal(model.Envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[ticketID] {
		h.enqueue(c, event, payload)
	}
}

// JoinQueue subscribes a staff socket to queue events (new and assigned tickets).
func (h *Hub) JoinQueue(c *Client) {
	h.mu.Lock()
	h.queue[c] = struct{}{}
	h.mu.Unlock()
	metrics.IncrementTicketSockets()
}

func (h *Hub) LeaveQueue(c *Client) {
	h.mu.Lock()
	_, ok := h.queue[c]
	delete(h.queue, c)
	h.mu.Unlock()
	c.closeSend()
	if ok {
		metrics.DecrementTicketSockets()
	}
}

// BroadcastQueue sends {event, data} to every queue subscriber.
func (h *Hub) BroadcastQueue(event string, data any) {
	payload, err := json.Marshal(model.Envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("marshal queue event", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.queue {
		h.enqueue(c, event, payload)
	}
}

// enqueue must run under h.mu so that Leave cannot close send concurrently.
func (h *Hub) enqueue(c *Client, event string, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.Warn("send buffer full, dropping event",
			zap.String("event", event),
			zap.Uint64("ticket_id", c.TicketID),
			zap.Uint64("user_id", c.Viewer.ID))
	}
}

// QueueSize reports how many staff sockets watch the queue.
func (h *Hub) QueueSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queue)
}

// Rooms reports how many ticket rooms have at least one socket.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
