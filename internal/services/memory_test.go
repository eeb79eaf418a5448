package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"fanpay/internal/models"
	"fanpay/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// memLedger is an in-memory stand-in for every store the wallet and escrow
// services use. memTxRunner serializes units of work over it and restores a
// snapshot when a unit fails, which is the behaviour the services rely on
// from a SERIALIZABLE Postgres transaction.
type memLedger struct {
	mu         sync.Mutex
	state      memState
	failAppend func(store.LedgerEntryInput) error
}

type memState struct {
	wallets    map[string]store.Wallet
	walletUser map[string]string
	entries    []store.LedgerEntry
	audits     int
	requests   map[string]store.ReplyRequest
	deliveries map[string]store.ReplyDelivery
	refunds    map[string]store.ReplyRefund
	products   map[string]store.ReplyProduct
	slas       map[string]store.ReplySLA
	policies   map[string]int
	profiles   map[string]store.UserProfile
}

func newMemLedger() *memLedger {
	return &memLedger{state: memState{
		wallets:    map[string]store.Wallet{},
		walletUser: map[string]string{},
		requests:   map[string]store.ReplyRequest{},
		deliveries: map[string]store.ReplyDelivery{},
		refunds:    map[string]store.ReplyRefund{},
		products:   map[string]store.ReplyProduct{},
		slas:       map[string]store.ReplySLA{},
		policies:   map[string]int{},
		profiles:   map[string]store.UserProfile{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		wallets:    make(map[string]store.Wallet, len(s.wallets)),
		walletUser: make(map[string]string, len(s.walletUser)),
		entries:    append([]store.LedgerEntry(nil), s.entries...),
		audits:     s.audits,
		requests:   make(map[string]store.ReplyRequest, len(s.requests)),
		deliveries: make(map[string]store.ReplyDelivery, len(s.deliveries)),
		refunds:    make(map[string]store.ReplyRefund, len(s.refunds)),
		products:   s.products,
		slas:       s.slas,
		policies:   s.policies,
		profiles:   s.profiles,
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.walletUser {
		out.walletUser[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.deliveries {
		out.deliveries[k] = v
	}
	for k, v := range s.refunds {
		out.refunds[k] = v
	}
	return out
}

type memTxRunner struct {
	mu     sync.Mutex
	ledger *memLedger
}

func (r *memTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.mu.Lock()
	snapshot := r.ledger.state.clone()
	r.ledger.mu.Unlock()
	if err := fn(nil); err != nil {
		r.ledger.mu.Lock()
		r.ledger.state = snapshot
		r.ledger.mu.Unlock()
		return err
	}
	return nil
}

func (m *memLedger) addCreator(userID, nickname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.profiles[userID] = store.UserProfile{ID: userID, Nickname: nickname, HasCreatorProfile: true}
}

func (m *memLedger) addFan(userID, nickname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.profiles[userID] = store.UserProfile{ID: userID, Nickname: nickname}
}

func (m *memLedger) addProduct(p store.ReplyProduct, slas ...store.ReplySLA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
	for _, sla := range slas {
		m.state.slas[sla.ID] = sla
	}
}

func (m *memLedger) balance(userID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.wallets[userID].Balance
}

func (m *memLedger) totalBalance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, w := range m.state.wallets {
		total = total.Add(w.Balance)
	}
	return total
}

func (m *memLedger) request(id string) store.ReplyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.requests[id]
}

func (m *memLedger) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.entries)
}

func (m *memLedger) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.refunds)
}

func (m *memLedger) entriesOfType(t models.TransactionType) []store.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.LedgerEntry
	for _, e := range m.state.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// WalletStore

func (m *memLedger) GetByUser(_ context.Context, userID string) (store.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.wallets[userID]
	if !ok {
		return store.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (m *memLedger) Create(_ context.Context, _ store.Execer, id, userID, currency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.wallets[userID]; ok {
		return nil
	}
	now := time.Now()
	m.state.wallets[userID] = store.Wallet{ID: id, UserID: userID, Balance: decimal.Zero, Currency: currency, CreatedAt: now, UpdatedAt: now}
	m.state.walletUser[id] = userID
	return nil
}

func (m *memLedger) GetByUserForUpdate(ctx context.Context, _ store.Getter, userID string) (store.Wallet, error) {
	return m.GetByUser(ctx, userID)
}

func (m *memLedger) UpdateBalance(_ context.Context, _ store.Execer, walletID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID := m.state.walletUser[walletID]
	w := m.state.wallets[userID]
	w.Balance = balance
	m.state.wallets[userID] = w
	return nil
}

func (m *memLedger) Reconcile(_ context.Context, onlyMismatched bool) ([]store.WalletBalanceSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.WalletBalanceSummary
	for _, w := range m.state.wallets {
		sum := decimal.Zero
		count := 0
		for _, e := range m.state.entries {
			if e.WalletID == w.ID {
				sum = sum.Add(e.Amount)
				count++
			}
		}
		if onlyMismatched && sum.Equal(w.Balance) {
			continue
		}
		rows = append(rows, store.WalletBalanceSummary{
			WalletID: w.ID, UserID: w.UserID, StoredBalance: w.Balance,
			LedgerSum: sum, Difference: w.Balance.Sub(sum), EntryCount: count,
		})
	}
	return rows, nil
}

// LedgerStore

func (m *memLedger) Append(_ context.Context, _ store.Execer, entry store.LedgerEntryInput) error {
	if m.failAppend != nil {
		if err := m.failAppend(entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.entries = append(m.state.entries, store.LedgerEntry{
		ID: entry.ID, WalletID: entry.WalletID, Type: entry.Type, Amount: entry.Amount,
		BalanceBefore: entry.BalanceBefore, BalanceAfter: entry.BalanceAfter,
		ReferenceID: entry.ReferenceID, ReferenceType: entry.ReferenceType, Description: entry.Description,
		Status: entry.Status, CreatedAt: time.Now(),
	})
	return nil
}

func (m *memLedger) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]store.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.LedgerEntry
	for i := len(m.state.entries) - 1; i >= 0; i-- {
		if m.state.entries[i].WalletID == walletID {
			rows = append(rows, m.state.entries[i])
		}
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memLedger) CountByWallet(_ context.Context, walletID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.state.entries {
		if e.WalletID == walletID {
			count++
		}
	}
	return count, nil
}

func (m *memLedger) ListChronological(_ context.Context, walletID string) ([]store.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.LedgerEntry
	for _, e := range m.state.entries {
		if e.WalletID == walletID {
			rows = append(rows, e)
		}
	}
	return rows, nil
}

func (m *memLedger) Escrow(_ context.Context) (store.EscrowSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var summary store.EscrowSummary
	for _, r := range m.state.requests {
		if r.Status.Active() {
			summary.Held = summary.Held.Add(r.EscrowAmount)
		}
	}
	for _, e := range m.state.entries {
		switch e.Type {
		case models.TxReplyRequestEscrow, models.TxReplyRequestRelease, models.TxReplyRequestRefund:
			summary.Outstanding = summary.Outstanding.Sub(e.Amount)
		}
	}
	return summary, nil
}

// AuditStore

func (m *memLedger) Log(context.Context, store.Execer, string, string, string, string, any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.audits++
	return nil
}

// IdentityStore

func (m *memLedger) Exists(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.profiles[userID]
	return ok, nil
}

func (m *memLedger) Profile(_ context.Context, userID string) (store.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.profiles[userID]
	if !ok {
		return store.UserProfile{}, sql.ErrNoRows
	}
	return p, nil
}

// ReplyStore

func (m *memLedger) CreateRequest(_ context.Context, _ store.Execer, r store.ReplyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.requests[r.ID] = r
	return nil
}

func (m *memLedger) GetRequest(_ context.Context, requestID string) (store.ReplyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.requests[requestID]
	if !ok {
		return store.ReplyRequest{}, sql.ErrNoRows
	}
	return r, nil
}

func (m *memLedger) GetRequestForUpdate(ctx context.Context, _ store.Getter, requestID string) (store.ReplyRequest, error) {
	return m.GetRequest(ctx, requestID)
}

func (m *memLedger) CountUsedSlots(_ context.Context, _ store.Getter, creatorID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.state.requests {
		if r.CreatorID == creatorID && !r.PaidAt.Before(since) &&
			(r.Status.Active() || r.Status == models.ReplyDelivered) {
			count++
		}
	}
	return count, nil
}

func (m *memLedger) CountActive(_ context.Context, _ store.Getter, creatorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.state.requests {
		if r.CreatorID == creatorID && r.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (m *memLedger) CountDelivered(_ context.Context, creatorID string, since *time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.state.requests {
		if r.CreatorID != creatorID || r.Status != models.ReplyDelivered {
			continue
		}
		if since != nil && (r.DeliveredAt == nil || r.DeliveredAt.Before(*since)) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memLedger) Transition(_ context.Context, _ store.Execer, requestID string, to models.ReplyStatus, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.requests[requestID]
	if !ok || !r.Status.Active() {
		return 0, nil
	}
	r.Status = to
	switch to {
	case models.ReplyInProgress:
		r.StartedAt = &at
	case models.ReplyDelivered:
		r.DeliveredAt = &at
	case models.ReplyExpired:
		r.ExpiredAt = &at
		r.RefundedAt = &at
	case models.ReplyRejected:
		r.RefundedAt = &at
	}
	m.state.requests[requestID] = r
	return 1, nil
}

func (m *memLedger) ListExpiredIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.ReplyRequest
	for _, r := range m.state.requests {
		if r.Status.Active() && r.DeadlineAt.Before(now) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DeadlineAt.Before(rows[j].DeadlineAt) })
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if len(ids) == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *memLedger) ListByRequester(_ context.Context, requesterID string, status models.ReplyStatus, limit, offset int) ([]store.ReplyRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.ReplyRequest
	for _, r := range m.state.requests {
		if r.RequesterID == requesterID && (status == "" || r.Status == status) {
			rows = append(rows, r)
		}
	}
	total := len(rows)
	if offset >= len(rows) {
		return nil, total, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, total, nil
}

func (m *memLedger) ListQueue(_ context.Context, creatorID string, limit, offset int) ([]store.ReplyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.ReplyRequest
	for _, r := range m.state.requests {
		if r.CreatorID == creatorID && r.Status.Active() {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].DeadlineAt.Equal(rows[j].DeadlineAt) {
			return rows[i].DeadlineAt.Before(rows[j].DeadlineAt)
		}
		return rows[i].QueuePosition < rows[j].QueuePosition
	})
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memLedger) CreateDelivery(_ context.Context, _ store.Execer, d store.ReplyDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.deliveries[d.ReplyRequestID] = d
	return nil
}

func (m *memLedger) GetDelivery(_ context.Context, requestID string) (store.ReplyDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deliveries[requestID]
	if !ok {
		return store.ReplyDelivery{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memLedger) SaveFeedback(_ context.Context, _ store.Execer, requestID string, input store.FeedbackInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deliveries[requestID]
	if !ok || d.Rating != nil {
		return 0, nil
	}
	rating := input.Rating
	d.Rating = &rating
	d.Feedback = input.Feedback
	d.IsPublicAllowed = input.IsPublicAllowed
	d.FeedbackAt = &input.At
	m.state.deliveries[requestID] = d
	return 1, nil
}

func (m *memLedger) CreateRefund(_ context.Context, _ store.Execer, r store.ReplyRefund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.refunds[r.ReplyRequestID] = r
	return nil
}

func (m *memLedger) GetRefund(_ context.Context, requestID string) (store.ReplyRefund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.refunds[requestID]
	if !ok {
		return store.ReplyRefund{}, sql.ErrNoRows
	}
	return r, nil
}

// ProductStore

func (m *memLedger) CreateProduct(_ context.Context, _ store.Execer, p store.ReplyProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
	return nil
}

func (m *memLedger) GetProduct(_ context.Context, productID string) (store.ReplyProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return store.ReplyProduct{}, sql.ErrNoRows
	}
	return p, nil
}

func (m *memLedger) ListActiveByCreator(_ context.Context, creatorID string) ([]store.ReplyProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.ReplyProduct
	for _, p := range m.state.products {
		if p.CreatorID == creatorID && p.IsActive {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].BasePrice.LessThan(rows[j].BasePrice) })
	return rows, nil
}

func (m *memLedger) CreateSLA(_ context.Context, _ store.Execer, sla store.ReplySLA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.slas[sla.ID] = sla
	return nil
}

func (m *memLedger) GetSLA(_ context.Context, slaID string) (store.ReplySLA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sla, ok := m.state.slas[slaID]
	if !ok {
		return store.ReplySLA{}, sql.ErrNoRows
	}
	return sla, nil
}

func (m *memLedger) ListActiveSLAs(_ context.Context, productIDs []string) ([]store.ReplySLA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range productIDs {
		wanted[id] = true
	}
	var rows []store.ReplySLA
	for _, sla := range m.state.slas {
		if wanted[sla.ProductID] && sla.IsActive {
			rows = append(rows, sla)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DeadlineHours > rows[j].DeadlineHours })
	return rows, nil
}

func (m *memLedger) GetSlotPolicy(_ context.Context, creatorID string) (store.SlotPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, ok := m.state.policies[creatorID]
	if !ok {
		return store.SlotPolicy{}, sql.ErrNoRows
	}
	return store.SlotPolicy{CreatorID: creatorID, DailySlotLimit: limit}, nil
}

func (m *memLedger) UpsertSlotPolicy(_ context.Context, _ store.Execer, creatorID string, dailyLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.policies[creatorID] = dailyLimit
	return nil
}

// fixedClock is a settable clock shared by services under test.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) types() []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationType, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Type)
	}
	return out
}

type memFixture struct {
	ledger   *memLedger
	runner   *memTxRunner
	wallet   *WalletService
	replies  *ReplyService
	notifier *recordingNotifier
	clock    *fixedClock
}

func newMemFixture() *memFixture {
	return newMemFixtureWithLimits(Limits{})
}

func newMemFixtureWithLimits(limits Limits) *memFixture {
	ledger := newMemLedger()
	runner := &memTxRunner{ledger: ledger}
	clock := &fixedClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	wallet := NewWalletService(runner, ledger, ledger, ledger, nil, nil, nil, limits)
	wallet.now = clock.Now
	replies := NewReplyService(runner, wallet, ledger, ledger, ledger, ledger, notifier, nil, ReplyOptions{Location: time.UTC})
	replies.now = clock.Now
	return &memFixture{ledger: ledger, runner: runner, wallet: wallet, replies: replies, notifier: notifier, clock: clock}
}
