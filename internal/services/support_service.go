package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fanpay/internal/db"
	"fanpay/internal/models"
	"fanpay/internal/money"
	"fanpay/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	maxSupportMessage   = 500
	anonymousNickname   = "Anonymous"
	defaultTopSupporter = 10
)

type SupportStore interface {
	Create(ctx context.Context, tx store.Execer, support store.Support) error
	HasSupported(ctx context.Context, q store.Getter, supporterID, receiverID string) (bool, error)
	ListSent(ctx context.Context, supporterID string, limit, offset int) ([]store.SupportWithParty, int, error)
	ListReceived(ctx context.Context, receiverID string, limit, offset int) ([]store.SupportWithParty, int, error)
	TopSupporters(ctx context.Context, receiverID string, limit int) ([]store.TopSupporter, error)
}

type CreatorStatsStore interface {
	AddSupportStats(ctx context.Context, tx store.Execer, creatorID string, amount decimal.Decimal, newSupporter bool) error
}

type SupportService struct {
	txRunner db.TxRunner
	wallet   *WalletService
	supports SupportStore
	users    IdentityStore
	stats    CreatorStatsStore
	notifier Notifier
}

func NewSupportService(txRunner db.TxRunner, wallet *WalletService, supports SupportStore, users IdentityStore, stats CreatorStatsStore, notifier Notifier) *SupportService {
	return &SupportService{
		txRunner: txRunner,
		wallet:   wallet,
		supports: supports,
		users:    users,
		stats:    stats,
		notifier: notifier,
	}
}

type SendSupportRequest struct {
	SupporterID string
	ReceiverID  string
	Amount      decimal.Decimal
	Message     *string
	IsAnonymous bool
}

// Send tips a creator. The transfer, the support row and the creator's
// running totals commit together.
func (s *SupportService) Send(ctx context.Context, req SendSupportRequest) (store.Support, error) {
	if req.SupporterID == req.ReceiverID {
		return store.Support{}, ErrSelfSupport
	}
	message, err := optionalText(req.Message, maxSupportMessage)
	if err != nil {
		return store.Support{}, err
	}
	exists, err := s.users.Exists(ctx, req.ReceiverID)
	if err != nil {
		return store.Support{}, unitError(err)
	}
	if !exists {
		return store.Support{}, ErrUserNotFound
	}
	support := store.Support{
		ID:          uuid.NewString(),
		SupporterID: req.SupporterID,
		ReceiverID:  req.ReceiverID,
		Amount:      req.Amount,
		Message:     message,
		IsAnonymous: req.IsAnonymous,
		CreatedAt:   time.Now(),
	}
	var transfer TransferResult
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		supportedBefore, err := s.supports.HasSupported(ctx, tx, req.SupporterID, req.ReceiverID)
		if err != nil {
			return err
		}
		transfer, err = s.wallet.TransferTx(ctx, tx, TransferRequest{
			FromUserID:    req.SupporterID,
			ToUserID:      req.ReceiverID,
			Amount:        req.Amount,
			Type:          models.TxSupportSent,
			Description:   stringPtr("Support"),
			ReferenceID:   stringPtr(support.ID),
			ReferenceType: stringPtr(models.RefSupport),
		})
		if err != nil {
			return err
		}
		if err := s.supports.Create(ctx, tx, support); err != nil {
			return err
		}
		return s.stats.AddSupportStats(ctx, tx, req.ReceiverID, req.Amount, !supportedBefore)
	})
	if err != nil {
		return store.Support{}, unitError(err)
	}
	s.wallet.Announce(ctx, transfer.Debit, transfer.Credit)

	sender := "Anonymous fan"
	if !req.IsAnonymous {
		if profile, err := s.users.Profile(ctx, req.SupporterID); err == nil {
			sender = profile.Nickname
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), Notification{
			UserID:  req.ReceiverID,
			Type:    models.NotifySupportReceived,
			Title:   "New Support Received!",
			Message: fmt.Sprintf("%s sent you %s!", sender, money.Display(req.Amount)),
			Data: map[string]any{
				"support_id":   support.ID,
				"amount":       money.Format(req.Amount),
				"is_anonymous": req.IsAnonymous,
			},
		})
	}
	return support, nil
}

type SupportDirection string

const (
	SupportSent     SupportDirection = "sent"
	SupportReceived SupportDirection = "received"
)

// History lists supports the user sent or received. On the received side
// anonymous supporters are hidden.
func (s *SupportService) History(ctx context.Context, userID string, direction SupportDirection, page, limit int) (Page[store.SupportWithParty], error) {
	page, limit, offset := pageWindow(page, limit)
	var rows []store.SupportWithParty
	var total int
	var err error
	switch direction {
	case SupportSent:
		rows, total, err = s.supports.ListSent(ctx, userID, limit, offset)
	case SupportReceived:
		rows, total, err = s.supports.ListReceived(ctx, userID, limit, offset)
		for i := range rows {
			if rows[i].IsAnonymous {
				rows[i].SupporterID = anonymousRequesterID
				rows[i].CounterpartyNickname = anonymousNickname
			}
		}
	default:
		return Page[store.SupportWithParty]{}, fmt.Errorf("%w: direction must be sent or received", ErrInvalidInput)
	}
	if err != nil {
		return Page[store.SupportWithParty]{}, unitError(err)
	}
	return newPage(rows, total, page, limit), nil
}

func (s *SupportService) TopSupporters(ctx context.Context, receiverID string, limit int) ([]store.TopSupporter, error) {
	if limit < 1 || limit > maxPageLimit {
		limit = defaultTopSupporter
	}
	rows, err := s.supports.TopSupporters(ctx, receiverID, limit)
	if err != nil {
		return nil, unitError(err)
	}
	if rows == nil {
		rows = []store.TopSupporter{}
	}
	return rows, nil
}

// optionalText trims an optional free-text field and enforces its length.
// Blank input becomes nil.
func optionalText(value *string, maxRunes int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > maxRunes {
		return nil, ErrInvalidMessage
	}
	return &trimmed, nil
}
