package services

import (
	"context"
	"encoding/json"
	"time"

	"fanpay/internal/events"
	"fanpay/internal/logger"
	"fanpay/internal/models"
	"fanpay/internal/store"
	"fanpay/internal/websocket"

	"github.com/google/uuid"
)

// Notification is what a service asks to tell a user after its unit of work
// committed.
type Notification struct {
	UserID  string
	Type    models.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Notifier is fire-and-forget: Notify never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type NotificationStore interface {
	Create(ctx context.Context, n store.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]store.Notification, error)
	CountByUser(ctx context.Context, userID string, unreadOnly bool) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, notificationID string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, notificationID string) (int64, error)
}

type NotificationHub interface {
	BroadcastNotification(userID string, push websocket.NotificationPush)
}

type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event events.NotificationEvent) error
}

type NotificationService struct {
	store     NotificationStore
	hub       NotificationHub
	publisher NotificationPublisher
}

func NewNotificationService(notifications NotificationStore, hub NotificationHub, publisher NotificationPublisher) *NotificationService {
	return &NotificationService{store: notifications, hub: hub, publisher: publisher}
}

// Notify stores the notification, pushes it to open websocket connections
// and publishes it for the push-delivery consumers. Each step logs its own
// failure and the rest still run.
func (s *NotificationService) Notify(ctx context.Context, n Notification) {
	data := json.RawMessage(`{}`)
	if len(n.Data) > 0 {
		encoded, err := json.Marshal(n.Data)
		if err != nil {
			logger.Log.Errorw("notification data encode failed", "user_id", n.UserID, "type", n.Type, "error", err)
		} else {
			data = encoded
		}
	}
	row := store.Notification{
		ID:        uuid.NewString(),
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := s.store.Create(ctx, row); err != nil {
		logger.Log.Errorw("notification store failed", "user_id", n.UserID, "type", n.Type, "error", err)
	}
	if s.hub != nil {
		s.hub.BroadcastNotification(n.UserID, websocket.NotificationPush{
			ID:        row.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Data:      data,
			CreatedAt: row.CreatedAt,
		})
	}
	if s.publisher != nil {
		err := s.publisher.PublishNotification(ctx, events.NotificationEvent{
			NotificationID: row.ID,
			UserID:         n.UserID,
			Type:           string(n.Type),
			Title:          n.Title,
			Message:        n.Message,
			Data:           data,
			CreatedAt:      row.CreatedAt,
		})
		if err != nil {
			logger.Log.Warnw("notification publish failed", "notification_id", row.ID, "error", err)
		}
	}
}

type NotificationList struct {
	Page[store.Notification]
	UnreadCount int `json:"unread_count"`
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, limit int) (NotificationList, error) {
	page, limit, offset := pageWindow(page, limit)
	rows, err := s.store.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return NotificationList{}, unitError(err)
	}
	total, err := s.store.CountByUser(ctx, userID, unreadOnly)
	if err != nil {
		return NotificationList{}, unitError(err)
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return NotificationList{}, unitError(err)
	}
	return NotificationList{Page: newPage(rows, total, page, limit), UnreadCount: unread}, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, unitError(err)
	}
	return count, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	rows, err := s.store.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return unitError(err)
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	rows, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, unitError(err)
	}
	return rows, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	rows, err := s.store.Delete(ctx, userID, notificationID)
	if err != nil {
		return unitError(err)
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
