package models

type TransactionType string

const (
	TxDeposit                      TransactionType = "DEPOSIT"
	TxWithdrawal                   TransactionType = "WITHDRAWAL"
	TxSupportSent                  TransactionType = "SUPPORT_SENT"
	TxSupportReceived              TransactionType = "SUPPORT_RECEIVED"
	TxSubscriptionPayment          TransactionType = "SUBSCRIPTION_PAYMENT"
	TxSubscriptionReceived         TransactionType = "SUBSCRIPTION_RECEIVED"
	TxCampaignContribution         TransactionType = "CAMPAIGN_CONTRIBUTION"
	TxCampaignContributionReceived TransactionType = "CAMPAIGN_CONTRIBUTION_RECEIVED"
	TxReplyRequestEscrow           TransactionType = "REPLY_REQUEST_ESCROW"
	TxReplyRequestRelease          TransactionType = "REPLY_REQUEST_RELEASE"
	TxReplyRequestRefund           TransactionType = "REPLY_REQUEST_REFUND"
)

// CreditCounterpart returns the inbound type booked on the recipient side of a
// transfer tagged with t. Only transfer debit types have a counterpart.
func (t TransactionType) CreditCounterpart() (TransactionType, bool) {
	switch t {
	case TxSupportSent:
		return TxSupportReceived, true
	case TxSubscriptionPayment:
		return TxSubscriptionReceived, true
	case TxCampaignContribution:
		return TxCampaignContributionReceived, true
	default:
		return "", false
	}
}

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
)

// Reference types link a ledger entry back to the record that caused it.
const (
	RefPayment      = "PAYMENT"
	RefSupport      = "SUPPORT"
	RefSubscription = "SUBSCRIPTION"
	RefCampaign     = "CAMPAIGN"
	RefReplyRequest = "REPLY_REQUEST"
	RefWithdrawal   = "WITHDRAWAL"
)

type ReplyStatus string

const (
	ReplyQueued     ReplyStatus = "QUEUED"
	ReplyInProgress ReplyStatus = "IN_PROGRESS"
	ReplyDelivered  ReplyStatus = "DELIVERED"
	ReplyRejected   ReplyStatus = "REJECTED"
	ReplyExpired    ReplyStatus = "EXPIRED"
)

// Active reports whether a request still holds escrowed funds.
func (s ReplyStatus) Active() bool {
	return s == ReplyQueued || s == ReplyInProgress
}

func (s ReplyStatus) Terminal() bool {
	return s == ReplyDelivered || s == ReplyRejected || s == ReplyExpired
}

func (s ReplyStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentVoice ContentType = "VOICE"
	ContentPhoto ContentType = "PHOTO"
	ContentVideo ContentType = "VIDEO"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentVoice, ContentPhoto, ContentVideo:
		return true
	}
	return false
}

type RefundReason string

const (
	RefundCreatorRejected RefundReason = "CREATOR_REJECTED"
	RefundSLAExpired      RefundReason = "SLA_EXPIRED"
)

// ProcessedBySystem marks refunds issued by the expiry sweep.
const ProcessedBySystem = "SYSTEM"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// CanTransition lists the status changes a creator may make by hand.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignActive || next == CampaignCancelled
	case CampaignActive:
		return next == CampaignCompleted || next == CampaignCancelled
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

const PaymentWalletCharge = "WALLET_CHARGE"

type NotificationType string

const (
	NotifySupportReceived       NotificationType = "SUPPORT_RECEIVED"
	NotifyNewSubscriber         NotificationType = "NEW_SUBSCRIBER"
	NotifyCampaignContribution  NotificationType = "CAMPAIGN_CONTRIBUTION"
	NotifyCampaignGoalReached   NotificationType = "CAMPAIGN_GOAL_REACHED"
	NotifyReplyRequestReceived  NotificationType = "REPLY_REQUEST_RECEIVED"
	NotifyReplyRequestDelivered NotificationType = "REPLY_REQUEST_DELIVERED"
	NotifyReplyRequestRefunded  NotificationType = "REPLY_REQUEST_REFUNDED"
	NotifyReplyRequestExpired   NotificationType = "REPLY_REQUEST_EXPIRED"
	NotifyDepositCompleted      NotificationType = "DEPOSIT_COMPLETED"
)
