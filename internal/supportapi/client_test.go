package supportapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", 0, nil)
}

func TestTicketInfo(t *testing.T) {
	op := uint64(2)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/support/tickets/5" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(model.TicketInfo{ID: 5, Status: model.TicketStatusActive, UserID: 1, OperatorID: &op})
	})

	info, err := c.TicketInfo(context.Background(), 5)
	if err != nil {
		t.Fatalf("TicketInfo: %v", err)
	}
	if info.ID != 5 || info.Status != model.TicketStatusActive || info.OperatorID == nil || *info.OperatorID != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestTicketMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/support/tickets/5/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":1,"sender_id":1,"content":"a","reply_to_id":null,"created_at":"2024-01-01T00:00:00Z"},
			{"id":2,"sender_id":2,"content":"b","reply_to_id":1,"created_at":"2024-01-01T00:01:00Z","deleted_at":"2024-01-01T00:02:00Z"}]`))
	})

	msgs, err := c.TicketMessages(context.Background(), 5)
	if err != nil {
		t.Fatalf("TicketMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ReplyToID == nil || *msgs[1].ReplyToID != 1 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].Deleted() || !msgs[1].Deleted() {
		t.Fatalf("deletion markers not decoded")
	}
}

func TestCreateTicket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in CreateTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if r.Method != http.MethodPost || in.Subject != "Login" || in.Content != "cannot sign in" {
			t.Errorf("unexpected request %s %+v", r.Method, in)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ticket_id":17}`))
	})

	id, err := c.CreateTicket(context.Background(), "Login", "cannot sign in")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if id != 17 {
		t.Fatalf("id = %d, want 17", id)
	}
}

func TestOperatorTicketsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/support/tickets/operator/list" || r.URL.Query().Get("status") != "active" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`[{"id":3,"subject":"x","status":"active","operator_id":2,"last_message_at":"2024-01-01T00:00:00Z"}]`))
	})

	list, err := c.OperatorTickets(context.Background(), model.TicketStatusActive)
	if err != nil {
		t.Fatalf("OperatorTickets: %v", err)
	}
	if len(list) != 1 || list[0].ID != 3 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, errs.ErrUnauthorized},
		{http.StatusForbidden, errs.ErrForbidden},
		{http.StatusNotFound, errs.ErrTicketNotFound},
		{http.StatusConflict, errs.ErrInvalidTransition},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		})
		err := c.AssignTicket(context.Background(), 1)
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Message != "nope" {
			t.Fatalf("status %d: expected APIError with message, got %v", tt.status, err)
		}
	}
}

func TestServerErrorIsNotASentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := c.CloseTicket(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, errs.ErrForbidden) || errors.Is(err, errs.ErrTicketNotFound) {
		t.Fatalf("500 must not map to a sentinel: %v", err)
	}
}

func TestDeleteTicketMessageNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/support/tickets/4/messages/9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if err := c.DeleteTicketMessage(context.Background(), 4, 9); !errors.Is(err, errs.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}
