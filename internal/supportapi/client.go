// Package supportapi is the HTTP client of the support backend REST API.
package supportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

const basePath = "/api/support"

// Client talks to /api/support with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient returns a client for the backend at baseURL. A zero timeout
// falls back to 10s.
func NewClient(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.Named("supportapi"),
	}
}

// Token is the credential used for REST calls and the ticket socket.
func (c *Client) Token() string { return c.token }

// BaseURL is the backend root, e.g. http://localhost:8097.
func (c *Client) BaseURL() string { return c.baseURL }

// APIError is a non-2xx answer. It unwraps to the matching errs sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("support api: status %d", e.Status)
	}
	return fmt.Sprintf("support api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrTicketNotFound
	case http.StatusConflict:
		return errs.ErrInvalidTransition
	}
	return nil
}

// CreateTicketRequest is the body of POST /tickets.
type CreateTicketRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type createTicketResponse struct {
	TicketID uint64 `json:"ticket_id"`
}

// CreateTicket opens a ticket with its first message and returns its id.
func (c *Client) CreateTicket(ctx context.Context, subject, content string) (uint64, error) {
	var out createTicketResponse
	if err := c.do(ctx, http.MethodPost, "/tickets", CreateTicketRequest{Subject: subject, Content: content}, &out); err != nil {
		return 0, err
	}
	return out.TicketID, nil
}

// MyTickets lists the caller's own tickets, most recent activity first.
func (c *Client) MyTickets(ctx context.Context) ([]model.TicketSummary, error) {
	var out []model.TicketSummary
	if err := c.do(ctx, http.MethodGet, "/tickets/my", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OperatorTickets lists tickets with the given status for staff.
func (c *Client) OperatorTickets(ctx context.Context, status model.TicketStatus) ([]model.TicketSummary, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	p := "/tickets/operator/list"
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	var out []model.TicketSummary
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TicketInfo fetches ticket metadata.
func (c *Client) TicketInfo(ctx context.Context, ticketID uint64) (model.TicketInfo, error) {
	var out model.TicketInfo
	err := c.do(ctx, http.MethodGet, ticketPath(ticketID), nil, &out)
	return out, err
}

// TicketMessages fetches the message history in insertion order.
func (c *Client) TicketMessages(ctx context.Context, ticketID uint64) ([]model.Message, error) {
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, ticketPath(ticketID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssignTicket takes a new ticket for the calling operator.
func (c *Client) AssignTicket(ctx context.Context, ticketID uint64) error {
	return c.do(ctx, http.MethodPost, ticketPath(ticketID)+"/assign", nil, nil)
}

// CloseTicket closes an active ticket.
func (c *Client) CloseTicket(ctx context.Context, ticketID uint64) error {
	return c.do(ctx, http.MethodPost, ticketPath(ticketID)+"/close", nil, nil)
}

// DeleteTicketMessage soft-deletes a message over REST.
func (c *Client) DeleteTicketMessage(ctx context.Context, ticketID, messageID uint64) error {
	p := ticketPath(ticketID) + "/messages/" + strconv.FormatUint(messageID, 10)
	err := c.do(ctx, http.MethodDelete, p, nil, nil)
	if errors.Is(err, errs.ErrTicketNotFound) {
		return fmt.Errorf("%w: %w", errs.ErrMessageNotFound, err)
	}
	return err
}

func ticketPath(id uint64) string {
	return "/tickets/" + strconv.FormatUint(id, 10)
}

func (c *Client) do(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("support api: marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+basePath+p, body)
	if err != nil {
		return fmt.Errorf("support api: new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("method", method), zap.String("path", p), zap.Error(err))
		return fmt.Errorf("support api: %s %s: %w", method, p, err)
	}
	defer resp.Body.Close()
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", p),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); len(raw) > 0 {
			if json.Unmarshal(raw, &e) == nil {
				apiErr.Message = e.Error
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("support api: decode %s: %w", p, err)
	}
	return nil
}
