package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fanpay/internal/db"
	"fanpay/internal/events"
	"fanpay/internal/logger"
	"fanpay/internal/models"
	"fanpay/internal/money"
	"fanpay/internal/store"
	"fanpay/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	DefaultMaxTransactionAmount = decimal.NewFromInt(10_000_000)
	DefaultMaxWalletBalance     = decimal.NewFromInt(100_000_000)
)

// Limits caps a single posting and the balance any wallet may reach.
type Limits struct {
	MaxTransaction decimal.Decimal
	MaxWallet      decimal.Decimal
}

type WalletService struct {
	txRunner db.TxRunner
	wallets  WalletStore
	ledger   LedgerStore
	audit    AuditStore
	hub      BalanceHub
	events   LedgerPublisher
	recorder Recorder
	limits   Limits
	now      func() time.Time
}

type WalletStore interface {
	GetByUser(ctx context.Context, userID string) (store.Wallet, error)
	Create(ctx context.Context, tx store.Execer, id, userID, currency string) error
	GetByUserForUpdate(ctx context.Context, tx store.Getter, userID string) (store.Wallet, error)
	UpdateBalance(ctx context.Context, tx store.Execer, walletID string, balance decimal.Decimal) error
	Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error)
}

type LedgerStore interface {
	Append(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]store.LedgerEntry, error)
	CountByWallet(ctx context.Context, walletID string) (int, error)
	ListChronological(ctx context.Context, walletID string) ([]store.LedgerEntry, error)
	Escrow(ctx context.Context) (store.EscrowSummary, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}

type LedgerPublisher interface {
	PublishLedger(ctx context.Context, event events.LedgerEvent) error
}

// Recorder receives business metrics. metrics.Recorder satisfies it.
type Recorder interface {
	RecordPosting(txType string, amount decimal.Decimal)
	RecordEscrowTransition(status string)
	RecordSweepItem(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordPosting(string, decimal.Decimal) {}
func (nopRecorder) RecordEscrowTransition(string)         {}
func (nopRecorder) RecordSweepItem(string)                {}

func NewWalletService(txRunner db.TxRunner, wallets WalletStore, ledger LedgerStore, audit AuditStore, hub BalanceHub, publisher LedgerPublisher, recorder Recorder, limits Limits) *WalletService {
	if limits.MaxTransaction.IsZero() {
		limits.MaxTransaction = DefaultMaxTransactionAmount
	}
	if limits.MaxWallet.IsZero() {
		limits.MaxWallet = DefaultMaxWalletBalance
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &WalletService{
		txRunner: txRunner,
		wallets:  wallets,
		ledger:   ledger,
		audit:    audit,
		hub:      hub,
		events:   publisher,
		recorder: recorder,
		limits:   limits,
		now:      time.Now,
	}
}

// Posting is one committed change to one wallet. Amount is signed: debits
// are negative.
type Posting struct {
	EntryID       string                 `json:"entry_id"`
	WalletID      string                 `json:"wallet_id"`
	UserID        string                 `json:"user_id"`
	Type          models.TransactionType `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	BalanceBefore decimal.Decimal        `json:"balance_before"`
	BalanceAfter  decimal.Decimal        `json:"balance_after"`
	Currency      string                 `json:"currency"`
	ReferenceID   *string                `json:"reference_id,omitempty"`
	ReferenceType *string                `json:"reference_type,omitempty"`
	PostedAt      time.Time              `json:"posted_at"`
}

type Balance struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type DepositRequest struct {
	UserID        string
	Amount        decimal.Decimal
	ReferenceID   *string
	ReferenceType *string
	Description   *string
}

type WithdrawRequest = DepositRequest

type TransferRequest struct {
	FromUserID    string
	ToUserID      string
	Amount        decimal.Decimal
	Type          models.TransactionType
	Description   *string
	ReferenceID   *string
	ReferenceType *string
}

type TransferResult struct {
	Debit  Posting `json:"debit"`
	Credit Posting `json:"credit"`
}

// Movement is a single-wallet posting booked by another service inside its
// own unit of work, such as escrow capture and release.
type Movement struct {
	UserID        string
	Amount        decimal.Decimal
	Type          models.TransactionType
	ReferenceID   *string
	ReferenceType *string
	Description   *string

	// Settlement marks a credit of funds already held in escrow. It is not
	// checked against the transaction or wallet limits.
	Settlement bool
}

func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID string) (store.Wallet, error) {
	wallet, err := s.wallets.GetByUser(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Wallet{}, unitError(err)
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.wallets.Create(ctx, tx, uuid.NewString(), userID, money.Currency)
	})
	if err != nil {
		return store.Wallet{}, unitError(err)
	}
	wallet, err = s.wallets.GetByUser(ctx, userID)
	if err != nil {
		return store.Wallet{}, unitError(err)
	}
	return wallet, nil
}

func (s *WalletService) GetBalance(ctx context.Context, userID string) (Balance, error) {
	wallet, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

// ListTransactions pages through the user's ledger, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, userID string, page, limit int) (Page[store.LedgerEntry], error) {
	page, limit, offset := pageWindow(page, limit)
	wallet, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return Page[store.LedgerEntry]{}, err
	}
	entries, err := s.ledger.ListByWallet(ctx, wallet.ID, limit, offset)
	if err != nil {
		return Page[store.LedgerEntry]{}, unitError(err)
	}
	total, err := s.ledger.CountByWallet(ctx, wallet.ID)
	if err != nil {
		return Page[store.LedgerEntry]{}, unitError(err)
	}
	return newPage(entries, total, page, limit), nil
}

func (s *WalletService) Deposit(ctx context.Context, req DepositRequest) (Posting, error) {
	var posting Posting
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		posting, err = s.DepositTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return Posting{}, unitError(err)
	}
	s.Announce(ctx, posting)
	return posting, nil
}

// DepositTx credits the user's wallet inside the caller's unit of work. The
// caller announces the posting after commit.
func (s *WalletService) DepositTx(ctx context.Context, tx store.Tx, req DepositRequest) (Posting, error) {
	posting, err := s.CreditTx(ctx, tx, Movement{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Type:          models.TxDeposit,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
	})
	if err != nil {
		return Posting{}, err
	}
	if err := s.audit.Log(ctx, tx, req.UserID, "deposit", "wallet", posting.WalletID, postingAudit(posting)); err != nil {
		return Posting{}, err
	}
	return posting, nil
}

func (s *WalletService) Withdraw(ctx context.Context, req WithdrawRequest) (Posting, error) {
	var posting Posting
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		posting, err = s.WithdrawTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return Posting{}, unitError(err)
	}
	s.Announce(ctx, posting)
	return posting, nil
}

func (s *WalletService) WithdrawTx(ctx context.Context, tx store.Tx, req WithdrawRequest) (Posting, error) {
	posting, err := s.DebitTx(ctx, tx, Movement{
		UserID:        req.UserID,
		Amount:        req.Amount,
		Type:          models.TxWithdrawal,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
	})
	if err != nil {
		return Posting{}, err
	}
	if err := s.audit.Log(ctx, tx, req.UserID, "withdraw", "wallet", posting.WalletID, postingAudit(posting)); err != nil {
		return Posting{}, err
	}
	return posting, nil
}

func (s *WalletService) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var result TransferResult
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = s.TransferTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return TransferResult{}, unitError(err)
	}
	s.Announce(ctx, result.Debit, result.Credit)
	return result, nil
}

// TransferTx moves funds between two users inside the caller's unit of work.
// The credit side is booked with the counterpart of the debit type.
func (s *WalletService) TransferTx(ctx context.Context, tx store.Tx, req TransferRequest) (TransferResult, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return TransferResult{}, err
	}
	if req.FromUserID == req.ToUserID {
		return TransferResult{}, ErrSelfTransfer
	}
	creditType, ok := req.Type.CreditCounterpart()
	if !ok {
		return TransferResult{}, ErrInvalidTransferType
	}
	from, to, err := s.lockTwoWallets(ctx, tx, req.FromUserID, req.ToUserID)
	if err != nil {
		return TransferResult{}, err
	}
	if from.Balance.LessThan(req.Amount) {
		return TransferResult{}, ErrInsufficientBalance
	}
	if err := s.checkWalletLimit(to, req.Amount); err != nil {
		return TransferResult{}, err
	}
	debit, err := s.post(ctx, tx, from, req.Amount.Neg(), req.Type, req.ReferenceID, req.ReferenceType, req.Description)
	if err != nil {
		return TransferResult{}, err
	}
	credit, err := s.post(ctx, tx, to, req.Amount, creditType, req.ReferenceID, req.ReferenceType, req.Description)
	if err != nil {
		return TransferResult{}, err
	}
	if err := ensureBalanced([]Posting{debit, credit}); err != nil {
		return TransferResult{}, err
	}
	if err := s.audit.Log(ctx, tx, req.FromUserID, "transfer", "wallet", debit.WalletID, map[string]any{
		"type":         string(req.Type),
		"amount":       money.Format(req.Amount),
		"to_user_id":   req.ToUserID,
		"debit_entry":  debit.EntryID,
		"credit_entry": credit.EntryID,
	}); err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Debit: debit, Credit: credit}, nil
}

// DebitTx takes amount out of one wallet. It fails with
// ErrInsufficientBalance rather than letting the balance go negative.
func (s *WalletService) DebitTx(ctx context.Context, tx store.Tx, m Movement) (Posting, error) {
	if err := s.validateAmount(m.Amount); err != nil {
		return Posting{}, err
	}
	wallet, err := s.lockWallet(ctx, tx, m.UserID)
	if err != nil {
		return Posting{}, err
	}
	if wallet.Balance.LessThan(m.Amount) {
		return Posting{}, ErrInsufficientBalance
	}
	return s.post(ctx, tx, wallet, m.Amount.Neg(), m.Type, m.ReferenceID, m.ReferenceType, m.Description)
}

// CreditTx adds amount to one wallet. Settlement credits skip the limits.
func (s *WalletService) CreditTx(ctx context.Context, tx store.Tx, m Movement) (Posting, error) {
	if m.Settlement {
		if !m.Amount.IsPositive() || !money.IsWhole(m.Amount) {
			return Posting{}, ErrInvalidAmount
		}
	} else if err := s.validateAmount(m.Amount); err != nil {
		return Posting{}, err
	}
	wallet, err := s.lockWallet(ctx, tx, m.UserID)
	if err != nil {
		return Posting{}, err
	}
	if !m.Settlement {
		if err := s.checkWalletLimit(wallet, m.Amount); err != nil {
			return Posting{}, err
		}
	}
	return s.post(ctx, tx, wallet, m.Amount, m.Type, m.ReferenceID, m.ReferenceType, m.Description)
}

// Announce runs the post-commit side effects of committed postings. Failures
// are logged and never reach the caller.
func (s *WalletService) Announce(ctx context.Context, postings ...Posting) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range postings {
		s.recorder.RecordPosting(string(p.Type), p.Amount.Abs())
		if s.hub != nil {
			s.hub.BroadcastBalance(p.UserID, websocket.BalanceUpdate{
				WalletID: p.WalletID,
				Balance:  money.Format(p.BalanceAfter),
				Currency: p.Currency,
			})
		}
		if s.events == nil {
			continue
		}
		event := events.LedgerEvent{
			EntryID:      p.EntryID,
			WalletID:     p.WalletID,
			UserID:       p.UserID,
			Type:         string(p.Type),
			Amount:       money.Format(p.Amount),
			BalanceAfter: money.Format(p.BalanceAfter),
			OccurredAt:   p.PostedAt,
		}
		if p.ReferenceID != nil {
			event.ReferenceID = *p.ReferenceID
		}
		if p.ReferenceType != nil {
			event.ReferenceType = *p.ReferenceType
		}
		if err := s.events.PublishLedger(ctx, event); err != nil {
			logger.Log.Warnw("ledger event publish failed", "entry_id", p.EntryID, "error", err)
		}
	}
}

// ReplayReport is the result of folding a wallet's history from zero.
type ReplayReport struct {
	UserID          string          `json:"user_id"`
	WalletID        string          `json:"wallet_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	EntryCount      int             `json:"entry_count"`
	ChainBreaks     []string        `json:"chain_breaks"`
	Consistent      bool            `json:"consistent"`
}

// VerifyReplay checks that each entry's balanceBefore equals the previous
// entry's balanceAfter and that the final balance matches the wallet.
func (s *WalletService) VerifyReplay(ctx context.Context, userID string) (ReplayReport, error) {
	wallet, err := s.wallets.GetByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReplayReport{}, ErrWalletNotFound
	}
	if err != nil {
		return ReplayReport{}, unitError(err)
	}
	entries, err := s.ledger.ListChronological(ctx, wallet.ID)
	if err != nil {
		return ReplayReport{}, unitError(err)
	}
	report := replay(entries)
	report.UserID = userID
	report.WalletID = wallet.ID
	report.StoredBalance = wallet.Balance
	report.Consistent = len(report.ChainBreaks) == 0 && report.ReplayedBalance.Equal(wallet.Balance)
	return report, nil
}

func replay(entries []store.LedgerEntry) ReplayReport {
	report := ReplayReport{ChainBreaks: []string{}, EntryCount: len(entries)}
	running := decimal.Zero
	for _, entry := range entries {
		if !entry.BalanceBefore.Equal(running) || !entry.BalanceAfter.Equal(running.Add(entry.Amount)) {
			report.ChainBreaks = append(report.ChainBreaks, entry.ID)
		}
		running = running.Add(entry.Amount)
	}
	report.ReplayedBalance = running
	return report
}

// Reconcile lists wallets whose stored balance disagrees with their ledger.
func (s *WalletService) Reconcile(ctx context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error) {
	rows, err := s.wallets.Reconcile(ctx, onlyMismatched)
	if err != nil {
		return nil, unitError(err)
	}
	return rows, nil
}

func (s *WalletService) EscrowSummary(ctx context.Context) (store.EscrowSummary, error) {
	summary, err := s.ledger.Escrow(ctx)
	if err != nil {
		return store.EscrowSummary{}, unitError(err)
	}
	return summary, nil
}

func (s *WalletService) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !money.IsWhole(amount) {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(s.limits.MaxTransaction) {
		return ErrTransactionLimit
	}
	return nil
}

func (s *WalletService) checkWalletLimit(wallet store.Wallet, credit decimal.Decimal) error {
	if wallet.Balance.Add(credit).GreaterThan(s.limits.MaxWallet) {
		return ErrWalletBalanceLimit
	}
	return nil
}

// post applies a signed amount to a locked wallet and appends the matching
// ledger entry.
func (s *WalletService) post(ctx context.Context, tx store.Tx, wallet store.Wallet, amount decimal.Decimal, txType models.TransactionType, referenceID, referenceType, description *string) (Posting, error) {
	after := wallet.Balance.Add(amount)
	if after.IsNegative() {
		return Posting{}, ErrInsufficientBalance
	}
	if err := s.wallets.UpdateBalance(ctx, tx, wallet.ID, after); err != nil {
		return Posting{}, err
	}
	entryID := uuid.NewString()
	if err := s.ledger.Append(ctx, tx, store.LedgerEntryInput{
		ID:            entryID,
		WalletID:      wallet.ID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		Description:   description,
		Status:        models.TxStatusCompleted,
	}); err != nil {
		return Posting{}, err
	}
	return Posting{
		EntryID:       entryID,
		WalletID:      wallet.ID,
		UserID:        wallet.UserID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		Currency:      wallet.Currency,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		PostedAt:      s.now(),
	}, nil
}

// lockWallet locks the user's wallet row, creating it first on the user's
// first money movement.
func (s *WalletService) lockWallet(ctx context.Context, tx store.Tx, userID string) (store.Wallet, error) {
	wallet, err := s.wallets.GetByUserForUpdate(ctx, tx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Wallet{}, err
	}
	if err := s.wallets.Create(ctx, tx, uuid.NewString(), userID, money.Currency); err != nil {
		return store.Wallet{}, err
	}
	return s.wallets.GetByUserForUpdate(ctx, tx, userID)
}

// lockTwoWallets locks both wallets in ascending user id order so two
// opposite transfers cannot deadlock.
func (s *WalletService) lockTwoWallets(ctx context.Context, tx store.Tx, firstUserID, secondUserID string) (store.Wallet, store.Wallet, error) {
	leftID, rightID := orderedIDs(firstUserID, secondUserID)
	left, err := s.lockWallet(ctx, tx, leftID)
	if err != nil {
		return store.Wallet{}, store.Wallet{}, err
	}
	right, err := s.lockWallet(ctx, tx, rightID)
	if err != nil {
		return store.Wallet{}, store.Wallet{}, err
	}
	if firstUserID == leftID {
		return left, right, nil
	}
	return right, left, nil
}

func orderedIDs(firstID, secondID string) (string, string) {
	if firstID <= secondID {
		return firstID, secondID
	}
	return secondID, firstID
}

func ensureBalanced(postings []Posting) error {
	sum := decimal.Zero
	for _, p := range postings {
		sum = sum.Add(p.Amount)
	}
	if !sum.IsZero() {
		return ErrUnbalancedPostings
	}
	return nil
}

func postingAudit(p Posting) map[string]any {
	return map[string]any{
		"entry_id":      p.EntryID,
		"type":          string(p.Type),
		"amount":        money.Format(p.Amount),
		"balance_after": money.Format(p.BalanceAfter),
	}
}

func stringPtr(value string) *string {
	return &value
}
