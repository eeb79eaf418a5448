package store

import (
	"context"
	"encoding/json"
	"time"

	"fanpay/internal/models"
)

type NotificationStore struct {
	db DB
}

type Notification struct {
	ID        string                  `db:"id" json:"id"`
	UserID    string                  `db:"user_id" json:"user_id"`
	Type      models.NotificationType `db:"type" json:"type"`
	Title     string                  `db:"title" json:"title"`
	Message   string                  `db:"message" json:"message"`
	Data      json.RawMessage         `db:"data" json:"data"`
	IsRead    bool                    `db:"is_read" json:"is_read"`
	CreatedAt time.Time               `db:"created_at" json:"created_at"`
}

func NewNotificationStore(db DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create writes outside any unit of work; notifications are sent after the
// money movement they describe has committed.
func (s *NotificationStore) Create(ctx context.Context, n Notification) error {
	data := n.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, []byte(data))
	return err
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	var rows []Notification
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, type, title, message, data, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *NotificationStore) CountByUser(ctx context.Context, userID string, unreadOnly bool) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1) FROM notifications WHERE user_id = $1 AND (NOT $2 OR is_read = FALSE)
	`, userID, unreadOnly)
	return count, err
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1) FROM notifications WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	return count, err
}

func (s *NotificationStore) MarkRead(ctx context.Context, userID, notificationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func (s *NotificationStore) Delete(ctx context.Context, userID, notificationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}
