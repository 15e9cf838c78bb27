package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/auth"
	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/hub"
	"github.com/psds-microservice/support-chat/internal/model"
)

// readLimit bounds one inbound frame; it must fit a base64 image.
const readLimit = 8 << 20

// socketViewer authenticates a socket upgrade from the token query parameter.
func (h *SupportHandler) socketViewer(c *gin.Context) (access.Viewer, bool) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		writeError(c, errs.ErrUnauthorized)
		return access.Viewer{}, false
	}
	claims, err := auth.Parse(h.secret, token)
	if err != nil {
		writeError(c, errs.ErrUnauthorized)
		return access.Viewer{}, false
	}
	auth.WithClaims(c, claims)
	if err := h.svc.UpsertUser(c.Request.Context(), claims.User()); err != nil {
		h.log.Warn("upsert user", zap.Uint64("user_id", claims.UserID), zap.Error(err))
	}
	return claims.Viewer(), true
}

// TicketSocket serves /ws/:id: the live room of one ticket.
func (h *SupportHandler) TicketSocket(c *gin.Context) {
	v, ok := h.socketViewer(c)
	if !ok {
		return
	}
	t, ok := h.ticket(c)
	if !ok {
		return
	}
	if !access.CanJoin(access.Relate(v, t.UserID, t.OperatorID)) {
		writeError(c, errs.ErrForbidden)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade", zap.Uint64("ticket_id", t.ID), zap.Error(err))
		return
	}
	client := hub.NewClient(conn, t.ID, v)
	client.PreparePong(readLimit)
	h.hub.Join(client)
	go client.WritePump()
	defer h.hub.Leave(client)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("socket read", zap.Uint64("ticket_id", t.ID), zap.Error(err))
			}
			return
		}
		h.handleFrame(context.Background(), v, t.ID, raw)
	}
}

// handleFrame applies one client frame. Bad frames are logged and dropped;
// the socket stays open.
func (h *SupportHandler) handleFrame(ctx context.Context, v access.Viewer, ticketID uint64, raw []byte) {
	var f model.InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.log.Debug("malformed frame", zap.Uint64("ticket_id", ticketID), zap.Error(err))
		return
	}

	if f.DeleteID != nil {
		msg, err := h.svc.GetMessage(ctx, *f.DeleteID)
		if err != nil {
			h.log.Debug("delete unknown message", zap.Uint64("message_id", *f.DeleteID), zap.Error(err))
			return
		}
		if msg.TicketID != ticketID {
			return
		}
		if err := h.deleteMessage(ctx, v, msg); err != nil {
			h.log.Debug("delete message", zap.Uint64("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	var content, media string
	if f.Content != nil {
		content = *f.Content
	}
	if f.Media != nil {
		media = *f.Media
	}
	if strings.TrimSpace(content) == "" && media == "" {
		return
	}
	if _, err := h.storeMessage(ctx, v, ticketID, content, media, f.ReplyTo); err != nil {
		if errors.Is(err, errs.ErrInvalidTransition) {
			h.log.Debug("message to closed ticket", zap.Uint64("ticket_id", ticketID))
			return
		}
		h.log.Warn("store message", zap.Uint64("ticket_id", ticketID), zap.Error(err))
	}
}

// QueueSocket serves /ws/queue: staff watching new and assigned tickets.
func (h *SupportHandler) QueueSocket(c *gin.Context) {
	v, ok := h.socketViewer(c)
	if !ok {
		return
	}
	if !v.Role.Staff() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errs.ErrForbidden.Error()})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade queue", zap.Error(err))
		return
	}
	client := hub.NewClient(conn, 0, v)
	client.PreparePong(1024)
	h.hub.JoinQueue(client)
	go client.WritePump()
	defer h.hub.LeaveQueue(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
