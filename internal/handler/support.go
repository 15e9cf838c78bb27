package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/access"
	"github.com/psds-microservice/support-chat/internal/auth"
	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/hub"
	"github.com/psds-microservice/support-chat/internal/kafka"
	"github.com/psds-microservice/support-chat/internal/media"
	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/internal/service"
	"github.com/psds-microservice/support-chat/pkg/logger"
	"github.com/psds-microservice/support-chat/pkg/metrics"
)

const publishTimeout = 5 * time.Second

type SupportHandler struct {
	svc      service.SupportServicer
	hub      *hub.Hub
	media    *media.Store
	events   kafka.TicketEventProducer
	secret   string
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewSupportHandler(svc service.SupportServicer, h *hub.Hub, store *media.Store, events kafka.TicketEventProducer, secret string, log *logger.Logger) *SupportHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SupportHandler{
		svc:    svc,
		hub:    h,
		media:  store,
		events: events,
		secret: secret,
		log:    log.Named("support"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// TrackUser stores the caller's name and role after authentication.
func (h *SupportHandler) TrackUser(c *gin.Context) {
	if claims, ok := auth.FromContext(c); ok {
		if err := h.svc.UpsertUser(c.Request.Context(), claims.User()); err != nil {
			h.log.Warn("upsert user", zap.Uint64("user_id", claims.UserID), zap.Error(err))
		}
	}
	c.Next()
}

type createTicketRequest struct {
	Subject string `json:"subject" binding:"required"`
	Content string `json:"content"`
}

func (h *SupportHandler) CreateTicket(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	t, err := h.svc.CreateTicket(c.Request.Context(), v.ID, strings.TrimSpace(req.Subject), req.Content)
	if err != nil {
		h.fail(c, "create ticket", err)
		return
	}
	metrics.TicketTransitionsTotal.WithLabelValues(string(model.TicketStatusNew)).Inc()
	h.hub.BroadcastQueue(model.EventNewTicket, model.NewTicketPayload{
		TicketID:      t.ID,
		Subject:       t.Subject,
		UserID:        t.UserID,
		LastMessageAt: t.LastMessageAt,
	})
	h.publish(kafka.NewTicketEvent(kafka.EventTicketCreated, t))
	c.JSON(http.StatusCreated, gin.H{"ticket_id": t.ID})
}

func (h *SupportHandler) MyTickets(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	items, err := h.svc.MyTickets(c.Request.Context(), v.ID)
	if err != nil {
		h.fail(c, "my tickets", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *SupportHandler) OperatorTickets(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	if !v.Role.Staff() {
		writeError(c, errs.ErrForbidden)
		return
	}
	items, err := h.svc.QueueTickets(c.Request.Context(), model.TicketStatus(c.DefaultQuery("status", string(model.TicketStatusNew))))
	if err != nil {
		h.fail(c, "operator tickets", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *SupportHandler) TicketInfo(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	info, err := h.svc.TicketInfo(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "ticket info", err)
		return
	}
	if !v.Role.Staff() && info.UserID != v.ID {
		writeError(c, errs.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, info)
}

// canReadHistory: whoever may join, plus any operator previewing a new ticket
// before taking it.
func canReadHistory(v access.Viewer, t *model.Ticket) bool {
	rel := access.Relate(v, t.UserID, t.OperatorID)
	if access.CanJoin(rel) {
		return true
	}
	return rel == access.UnassignedOperator && t.Status == model.TicketStatusNew
}

func (h *SupportHandler) TicketMessages(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	t, ok := h.ticket(c)
	if !ok {
		return
	}
	if !canReadHistory(v, t) {
		writeError(c, errs.ErrForbidden)
		return
	}
	msgs, err := h.svc.Messages(c.Request.Context(), t.ID)
	if err != nil {
		h.fail(c, "ticket messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type postMessageRequest struct {
	Content   string  `json:"content"`
	Media     string  `json:"media,omitempty"`
	ReplyToID *uint64 `json:"reply_to_id,omitempty"`
}

// PostMessage is the REST twin of a socket send frame.
func (h *SupportHandler) PostMessage(c *gin.Context) {
	v, ok := viewer(c)
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
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	msg, err := h.storeMessage(c.Request.Context(), v, t.ID, req.Content, req.Media, req.ReplyToID)
	if err != nil {
		h.fail(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, msg.Message())
}

func (h *SupportHandler) AssignTicket(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	if !v.Role.Staff() {
		writeError(c, errs.ErrForbidden)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.Assign(c.Request.Context(), id, v.ID)
	if err != nil {
		h.fail(c, "assign ticket", err)
		return
	}
	metrics.TicketTransitionsTotal.WithLabelValues(string(model.TicketStatusActive)).Inc()
	h.hub.BroadcastQueue(model.EventTicketAssigned, model.AssignedPayload{TicketID: t.ID, OperatorID: t.OperatorID})
	h.publish(kafka.NewTicketEvent(kafka.EventTicketAssigned, t))
	h.log.Info("ticket assigned", zap.Uint64("ticket_id", t.ID), zap.Uint64("operator_id", v.ID))
	c.JSON(http.StatusOK, gin.H{"message": "ticket assigned"})
}

func (h *SupportHandler) CloseTicket(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	t, ok := h.ticket(c)
	if !ok {
		return
	}
	switch access.Relate(v, t.UserID, t.OperatorID) {
	case access.Owner, access.AssignedOperator, access.Admin:
	default:
		writeError(c, errs.ErrForbidden)
		return
	}
	closed, err := h.svc.Close(c.Request.Context(), t.ID)
	if err != nil {
		h.fail(c, "close ticket", err)
		return
	}
	metrics.TicketTransitionsTotal.WithLabelValues(string(model.TicketStatusClosed)).Inc()
	h.hub.Broadcast(closed.ID, model.EventTicketClosed, model.ClosedPayload{TicketID: closed.ID})
	h.publish(kafka.NewTicketEvent(kafka.EventTicketClosed, closed))
	h.log.Info("ticket closed", zap.Uint64("ticket_id", closed.ID), zap.Uint64("by", v.ID))
	c.JSON(http.StatusOK, gin.H{"message": "ticket closed"})
}

func (h *SupportHandler) DeleteMessage(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}
	ticketID, ok := paramID(c, "id")
	if !ok {
		return
	}
	msgID, ok := paramID(c, "msgId")
	if !ok {
		return
	}
	msg, err := h.svc.GetMessage(c.Request.Context(), msgID)
	if err != nil {
		h.fail(c, "get message", err)
		return
	}
	if msg.TicketID != ticketID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to this ticket"})
		return
	}
	if err := h.deleteMessage(c.Request.Context(), v, msg); err != nil {
		h.fail(c, "delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

// storeMessage persists a message from v (saving an attached image first)
// and fans it out to the ticket room.
func (h *SupportHandler) storeMessage(ctx context.Context, v access.Viewer, ticketID uint64, content, dataURL string, replyTo *uint64) (*model.TicketMessage, error) {
	var mediaURL *string
	if dataURL != "" {
		u, err := h.media.SaveDataURL(dataURL, v.ID)
		if err != nil {
			h.log.Warn("save image", zap.Uint64("ticket_id", ticketID), zap.Error(err))
			if strings.TrimSpace(content) == "" {
				return nil, err
			}
		} else {
			mediaURL = &u
		}
	}
	if replyTo != nil && *replyTo == 0 {
		replyTo = nil
	}
	msg := &model.TicketMessage{
		TicketID:   ticketID,
		SenderID:   v.ID,
		SenderRole: senderRole(v.Role),
		Content:    content,
		MediaURL:   mediaURL,
		ReplyToID:  replyTo,
	}
	if err := h.svc.PostMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.ChatMessagesTotal.WithLabelValues(msg.SenderRole).Inc()
	h.hub.Broadcast(ticketID, model.EventTicketMessage, msg.Message())
	h.publish(kafka.TicketEvent{
		Event:     kafka.EventTicketMessage,
		TicketID:  ticketID,
		UserID:    v.ID,
		MessageID: msg.ID,
		At:        msg.CreatedAt.UTC(),
	})
	return msg, nil
}

// deleteMessage soft-deletes msg when v sent it or is staff.
func (h *SupportHandler) deleteMessage(ctx context.Context, v access.Viewer, msg *model.TicketMessage) error {
	if !v.Role.Staff() && msg.SenderID != v.ID {
		return errs.ErrForbidden
	}
	if err := h.svc.DeleteMessage(ctx, msg.ID); err != nil {
		return err
	}
	metrics.ChatDeletesTotal.Inc()
	h.hub.Broadcast(msg.TicketID, model.EventTicketDelete, model.DeletePayload{MessageID: msg.ID})
	return nil
}

func (h *SupportHandler) ticket(c *gin.Context) (*model.Ticket, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, false
	}
	t, err := h.svc.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get ticket", err)
		return nil, false
	}
	return t, true
}

func (h *SupportHandler) publish(ev kafka.TicketEvent) {
	if h.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		h.events.ProduceTicketEvent(ctx, ev)
	}()
}

func (h *SupportHandler) fail(c *gin.Context, op string, err error) {
	if status := statusOf(err); status >= http.StatusInternalServerError {
		h.log.Error(op, zap.Error(err))
	}
	writeError(c, err)
}

func senderRole(r model.Role) string {
	if r.Staff() {
		return string(model.RoleOperator)
	}
	return string(model.RoleUser)
}

func viewer(c *gin.Context) (access.Viewer, bool) {
	claims, ok := auth.FromContext(c)
	if !ok {
		writeError(c, errs.ErrUnauthorized)
		return access.Viewer{}, false
	}
	return claims.Viewer(), true
}

func paramID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrTicketNotFound), errors.Is(err, errs.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errs.ErrNotImage), errors.Is(err, errs.ErrMediaTooLarge):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
