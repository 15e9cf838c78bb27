package service

import (
	"context"
	"errors"
	"time"

	"github.com/psds-microservice/support-chat/internal/errs"
	"github.com/psds-microservice/support-chat/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SupportServicer — интерфейс для хендлеров (Dependency Inversion).
type SupportServicer interface {
	UpsertUser(ctx context.Context, u model.User) error
	CreateTicket(ctx context.Context, userID uint64, subject, content string) (*model.Ticket, error)
	MyTickets(ctx context.Context, userID uint64) ([]model.TicketSummary, error)
	QueueTickets(ctx context.Context, status model.TicketStatus) ([]model.TicketSummary, error)
	GetTicket(ctx context.Context, id uint64) (*model.Ticket, error)
	TicketInfo(ctx context.Context, id uint64) (*model.TicketInfo, error)
	Messages(ctx context.Context, ticketID uint64) ([]model.Message, error)
	Assign(ctx context.Context, ticketID, operatorID uint64) (*model.Ticket, error)
	Close(ctx context.Context, ticketID uint64) (*model.Ticket, error)
	PostMessage(ctx context.Context, m *model.TicketMessage) error
	GetMessage(ctx context.Context, id uint64) (*model.TicketMessage, error)
	DeleteMessage(ctx context.Context, id uint64) error
	ListTickets(ctx context.Context, limit, offset int) ([]model.Ticket, int64, error)
}

type SupportService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSupportService(db *gorm.DB) *SupportService {
	return &SupportService{db: db, now: time.Now}
}

// UpsertUser records the name and role a token carries so ticket views can show names.
func (s *SupportService) UpsertUser(ctx context.Context, u model.User) error {
	cols := []string{"role"}
	if u.Name != "" {
		cols = append(cols, "name")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&u).Error
}

// CreateTicket opens a new ticket together with its first message.
func (s *SupportService) CreateTicket(ctx context.Context, userID uint64, subject, content string) (*model.Ticket, error) {
	now := s.now()
	t := &model.Ticket{
		Subject:       subject,
		Status:        model.TicketStatusNew,
		UserID:        userID,
		LastMessageAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(&model.TicketMessage{
			TicketID:   t.ID,
			SenderID:   userID,
			SenderRole: string(model.RoleUser),
			Content:    content,
			CreatedAt:  now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SupportService) MyTickets(ctx context.Context, userID uint64) ([]model.TicketSummary, error) {
	var items []model.Ticket
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at DESC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	out := make([]model.TicketSummary, 0, len(items))
	for i := range items {
		out = append(out, summary(&items[i], ""))
	}
	return out, nil
}

// QueueTickets lists tickets in status for staff; an unknown status means new.
func (s *SupportService) QueueTickets(ctx context.Context, status model.TicketStatus) ([]model.TicketSummary, error) {
	if !status.Valid() {
		status = model.TicketStatusNew
	}
	var items []model.Ticket
	if err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("last_message_at DESC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(items))
	for _, t := range items {
		ids = append(ids, t.UserID)
	}
	names, err := s.userNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.TicketSummary, 0, len(items))
	for i := range items {
		out = append(out, summary(&items[i], names[items[i].UserID]))
	}
	return out, nil
}

func (s *SupportService) GetTicket(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TicketInfo is GetTicket plus the names of the owner and the assigned operator.
func (s *SupportService) TicketInfo(ctx context.Context, id uint64) (*model.TicketInfo, error) {
	t, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := []uint64{t.UserID}
	if t.OperatorID != nil {
		ids = append(ids, *t.OperatorID)
	}
	names, err := s.userNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	info := &model.TicketInfo{
		ID:            t.ID,
		Subject:       t.Subject,
		Status:        t.Status,
		UserID:        t.UserID,
		UserName:      names[t.UserID],
		OperatorID:    t.OperatorID,
		LastMessageAt: t.LastMessageAt,
	}
	if t.OperatorID != nil {
		if name, ok := names[*t.OperatorID]; ok {
			info.OperatorName = &name
		}
	}
	return info, nil
}

// Messages returns the whole history, deleted messages included with their marker.
func (s *SupportService) Messages(ctx context.Context, ticketID uint64) ([]model.Message, error) {
	var rows []model.TicketMessage
	if err := s.db.WithContext(ctx).Unscoped().
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Message())
	}
	return out, nil
}

// Assign moves a new ticket to active under operatorID.
func (s *SupportService) Assign(ctx context.Context, ticketID, operatorID uint64) (*model.Ticket, error) {
	return s.transition(ctx, ticketID, model.TicketStatusNew, map[string]interface{}{
		"status":          model.TicketStatusActive,
		"operator_id":     operatorID,
		"last_message_at": s.now(),
	})
}

// Close moves an active ticket to closed.
func (s *SupportService) Close(ctx context.Context, ticketID uint64) (*model.Ticket, error) {
	return s.transition(ctx, ticketID, model.TicketStatusActive, map[string]interface{}{
		"status":          model.TicketStatusClosed,
		"last_message_at": s.now(),
	})
}

// transition applies changes only while the ticket is still in from, so two
// operators racing for the same ticket cannot both win.
func (s *SupportService) transition(ctx context.Context, id uint64, from model.TicketStatus, changes map[string]interface{}) (*model.Ticket, error) {
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ? AND status = ?", id, from).
		Updates(changes)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetTicket(ctx, id); err != nil {
			return nil, err
		}
		return nil, errs.ErrInvalidTransition
	}
	return s.GetTicket(ctx, id)
}

// PostMessage stores m and bumps the ticket's last activity. Closed tickets
// accept no messages.
func (s *SupportService) PostMessage(ctx context.Context, m *model.TicketMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Ticket
		if err := tx.First(&t, m.TicketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrTicketNotFound
			}
			return err
		}
		if t.Status == model.TicketStatusClosed {
			return errs.ErrInvalidTransition
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&t).Update("last_message_at", m.CreatedAt).Error
	})
}

func (s *SupportService) GetMessage(ctx context.Context, id uint64) (*model.TicketMessage, error) {
	var m model.TicketMessage
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// DeleteMessage soft-deletes a message.
func (s *SupportService) DeleteMessage(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&model.TicketMessage{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrMessageNotFound
	}
	return nil
}

func (s *SupportService) ListTickets(ctx context.Context, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("id ASC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SupportService) userNames(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	names := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func summary(t *model.Ticket, userName string) model.TicketSummary {
	return model.TicketSummary{
		ID:            t.ID,
		Subject:       t.Subject,
		Status:        t.Status,
		StatusLabel:   t.Status.Label(),
		UserID:        t.UserID,
		UserName:      userName,
		OperatorID:    t.OperatorID,
		LastMessageAt: t.LastMessageAt,
	}
}
