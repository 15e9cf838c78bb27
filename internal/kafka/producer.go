package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

// Lifecycle event names.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketAssigned = "ticket.assigned"
	EventTicketClosed   = "ticket.closed"
	EventTicketMessage  = "ticket.message"
	EventTicketUpdated  = "ticket.updated"
)

// TicketEvent is one record on the ticket topic.
type TicketEvent struct {
	Event      string             `json:"event"`
	TicketID   uint64             `json:"ticket_id"`
	UserID     uint64             `json:"user_id"`
	OperatorID *uint64            `json:"operator_id,omitempty"`
	Subject    string             `json:"subject,omitempty"`
	Status     model.TicketStatus `json:"status"`
	MessageID  uint64             `json:"message_id,omitempty"`
	At         time.Time          `json:"at"`
}

// NewTicketEvent describes t for event.
func NewTicketEvent(event string, t *model.Ticket) TicketEvent {
	return TicketEvent{
		Event:      event,
		TicketID:   t.ID,
		UserID:     t.UserID,
		OperatorID: t.OperatorID,
		Subject:    t.Subject,
		Status:     t.Status,
		At:         time.Now().UTC(),
	}
}

// TicketEventProducer is what handlers publish through; tests swap in a recorder.
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, ev TicketEvent)
}

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *logger.Logger
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.Nop()
	}
	p := &Producer{log: log.Named("kafka")}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.topic = topic
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return p
}

// Enabled reports whether events actually leave the process.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceTicketEvent writes ev keyed by ticket id, so one ticket's events stay ordered.
func (p *Producer) ProduceTicketEvent(ctx context.Context, ev TicketEvent) {
	if p.writer == nil {
		return
	}
	msg, err := encode(ev)
	if err != nil {
		p.log.Error("marshal ticket event", zap.Error(err))
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("write ticket event",
			zap.String("event", ev.Event),
			zap.Uint64("ticket_id", ev.TicketID),
			zap.Error(err))
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encode(ev TicketEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.TicketID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Event)},
		},
	}, nil
}
