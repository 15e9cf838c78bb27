// Package session drives one open ticket chat: it loads the ticket, decides
// from the viewer's standing whether the live connection should be held, and
// applies assign and close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/chat/socket"
	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

// ErrNotLoaded is returned by actions issued before a successful Load.
var ErrNotLoaded = errors.New("session: ticket not loaded")

// TicketAPI is the part of the REST client the controller needs.
type TicketAPI interface {
	TicketInfo(ctx context.Context, ticketID uint64) (model.TicketInfo, error)
	TicketMessages(ctx context.Context, ticketID uint64) ([]model.Message, error)
	AssignTicket(ctx context.Context, ticketID uint64) error
	CloseTicket(ctx context.Context, ticketID uint64) error
}

// Connector is the connection holder; *socket.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context, ticketID uint64, credential string) error
	Disconnect()
	Connected() bool
	OnMessage(h socket.MessageHandler)
	OnDelete(h socket.DeleteHandler)
	OnPresence(h socket.PresenceHandler)
}

type Controller struct {
	api        TicketAPI
	sock       Connector
	viewer     access.Viewer
	ticketID   uint64
	credential string
	room       *Room
	log        *logger.Logger

	mu     sync.Mutex
	info   model.TicketInfo
	loaded bool
	// subscribed is true while this session's handlers sit on sock; only
	// Disconnect removes them.
	subscribed bool
	done       bool
}

func New(api TicketAPI, sock Connector, viewer access.Viewer, ticketID uint64, credential string, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		api:        api,
		sock:       sock,
		viewer:     viewer,
		ticketID:   ticketID,
		credential: credential,
		room:       NewRoom(),
		log:        log.Named("session").With(zap.Uint64("ticket_id", ticketID)),
	}
}

func (c *Controller) Room() *Room           { return c.room }
func (c *Controller) Viewer() access.Viewer { return c.viewer }
func (c *Controller) TicketID() uint64      { return c.ticketID }
func (c *Controller) Connected() bool       { return c.sock.Connected() }

// Info is the cached ticket metadata, patched locally by Assign and Close.
func (c *Controller) Info() model.TicketInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// State is the viewer's current standing towards the ticket.
func (c *Controller) State() access.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() access.State {
	return access.StateOf(c.viewer, c.info)
}

// Load fetches the ticket metadata, then its history, and opens the live
// connection when the viewer is eligible. A failed fetch is returned; a
// failed dial is only logged.
func (c *Controller) Load(ctx context.Context) error {
	info, err := c.api.TicketInfo(ctx, c.ticketID)
	if err != nil {
		c.log.Error("load ticket failed", zap.Error(err))
		return fmt.Errorf("session: load ticket %d: %w", c.ticketID, err)
	}
	history, err := c.api.TicketMessages(ctx, c.ticketID)
	if err != nil {
		c.log.Error("load history failed", zap.Error(err))
		return fmt.Errorf("session: load messages of ticket %d: %w", c.ticketID, err)
	}

	c.mu.Lock()
	c.info = info
	c.loaded = true
	st := c.state()
	c.mu.Unlock()
	c.room.Reset(history)

	c.log.Info("ticket loaded",
		zap.String("status", string(st.Status)),
		zap.Stringer("relationship", st.Relationship),
		zap.Int("messages", len(history)))

	if st.ShouldConnect() {
		_ = c.open(ctx)
	}
	return nil
}

// Assign takes the ticket for the viewing operator and joins its channel.
func (c *Controller) Assign(ctx context.Context) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.state().CanAssign() {
		st := c.state()
		c.mu.Unlock()
		return fmt.Errorf("%w: assign as %s on %s ticket", errs.ErrInvalidTransition, st.Relationship, st.Status)
	}
	c.mu.Unlock()

	if err := c.api.AssignTicket(ctx, c.ticketID); err != nil {
		c.log.Error("assign failed", zap.Error(err))
		return fmt.Errorf("session: assign ticket %d: %w", c.ticketID, err)
	}

	c.mu.Lock()
	c.info.Status = model.TicketStatusActive
	op := c.viewer.ID
	c.info.OperatorID = &op
	st := c.state()
	c.mu.Unlock()
	c.log.Info("ticket assigned", zap.Uint64("operator_id", op))

	if st.ShouldConnect() {
		_ = c.open(ctx)
	}
	return nil
}

// Close closes the ticket and drops the live connection.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.state().CanClose() {
		st := c.state()
		c.mu.Unlock()
		return fmt.Errorf("%w: close as %s on %s ticket", errs.ErrInvalidTransition, st.Relationship, st.Status)
	}
	c.mu.Unlock()

	if err := c.api.CloseTicket(ctx, c.ticketID); err != nil {
		c.log.Error("close failed", zap.Error(err))
		return fmt.Errorf("session: close ticket %d: %w", c.ticketID, err)
	}

	c.mu.Lock()
	c.info.Status = model.TicketStatusClosed
	c.mu.Unlock()
	c.log.Info("ticket closed")
	c.disconnect()
	return nil
}

// Reconnect dials the channel again. The manager never does this by itself.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	st := c.state()
	c.mu.Unlock()
	if !st.ShouldConnect() {
		return fmt.Errorf("%w: %s may not join a %s ticket", errs.ErrForbidden, st.Relationship, st.Status)
	}
	return c.open(ctx)
}

// Teardown leaves the view. It disconnects only if this session subscribed,
// and is safe to call more than once.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.disconnect()
}

func (c *Controller) open(ctx context.Context) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	subscribe := !c.subscribed
	c.subscribed = true
	c.mu.Unlock()

	if subscribe {
		c.sock.OnMessage(c.handleMessage)
		c.sock.OnDelete(c.handleDelete)
		c.sock.OnPresence(c.room.SetPresence)
	}
	if err := c.sock.Connect(ctx, c.ticketID, c.credential); err != nil {
		c.log.Warn("live connection unavailable", zap.Error(err))
		return err
	}
	return nil
}

func (c *Controller) disconnect() {
	c.mu.Lock()
	was := c.subscribed
	c.subscribed = false
	c.mu.Unlock()
	if was {
		c.sock.Disconnect()
	}
}

func (c *Controller) handleMessage(m model.Message) {
	if m.TicketID != 0 && m.TicketID != c.ticketID {
		return
	}
	c.room.Append(m)
}

func (c *Controller) handleDelete(id uint64) {
	c.room.MarkDeleted(id, time.Now())
}
