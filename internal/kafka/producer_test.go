package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/psds-microservice/support-chat/internal/model"
)

func TestEncodeKeysByTicket(t *testing.T) {
	op := uint64(4)
	ev := NewTicketEvent(EventTicketAssigned, &model.Ticket{ID: 12, UserID: 3, OperatorID: &op, Subject: "vpn", Status: model.TicketStatusActive})

	msg, err := encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "12" {
		t.Fatalf("key = %q, want 12", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != EventTicketAssigned {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
	var got TicketEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event != EventTicketAssigned || got.TicketID != 12 || got.OperatorID == nil || *got.OperatorID != 4 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestProducerDisabledWithoutBrokers(t *testing.T) {
	p := NewProducer(nil, "support.tickets", nil)
	if p.Enabled() {
		t.Fatalf("producer without brokers must be disabled")
	}
	p.ProduceTicketEvent(context.Background(), TicketEvent{Event: EventTicketCreated, TicketID: 1})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
