package services

import (
	"errors"
	"fmt"
)

// Error classes. Every error a service returns is, or wraps, exactly one of
// these; handlers map the class to a status code.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidState        = errors.New("invalid state")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrForbidden           = errors.New("forbidden")
	// ErrPersistence means the unit of work did not commit. Nothing was
	// applied, so the caller may retry.
	ErrPersistence = errors.New("persistence failure")
)

var (
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be a positive whole number of won", ErrInvalidInput)
	ErrSelfTransfer        = fmt.Errorf("%w: cannot transfer to the same wallet", ErrInvalidInput)
	ErrInvalidTransferType = fmt.Errorf("%w: unsupported transfer type", ErrInvalidInput)
	ErrTransactionLimit    = fmt.Errorf("%w: amount exceeds the single transaction limit", ErrLimitExceeded)
	ErrWalletBalanceLimit  = fmt.Errorf("%w: wallet balance would exceed the maximum", ErrLimitExceeded)
	ErrUnbalancedPostings  = errors.New("ledger postings are not balanced")

	ErrUserNotFound         = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrWalletNotFound       = fmt.Errorf("%w: wallet not found", ErrNotFound)
	ErrNotCreator           = fmt.Errorf("%w: creator profile required", ErrForbidden)
	ErrInvalidMessage       = fmt.Errorf("%w: message length out of range", ErrInvalidInput)
	ErrInvalidPage          = fmt.Errorf("%w: invalid pagination", ErrInvalidInput)
	ErrInvalidName          = fmt.Errorf("%w: name length out of range", ErrInvalidInput)
	ErrInvalidStatusFilter  = fmt.Errorf("%w: unknown status", ErrInvalidInput)
	ErrInvalidContentType   = fmt.Errorf("%w: unknown content type", ErrInvalidInput)
	ErrInvalidDeadlineHours = fmt.Errorf("%w: deadline hours out of range", ErrInvalidInput)
	ErrInvalidMultiplier    = fmt.Errorf("%w: price multiplier out of range", ErrInvalidInput)
	ErrInvalidSlotLimit     = fmt.Errorf("%w: daily slot limit out of range", ErrInvalidInput)

	ErrSelfRequest          = fmt.Errorf("%w: cannot request a reply from yourself", ErrInvalidInput)
	ErrProductNotFound      = fmt.Errorf("%w: reply product not found", ErrNotFound)
	ErrProductInactive      = fmt.Errorf("%w: reply product is not active", ErrInvalidState)
	ErrSLANotFound          = fmt.Errorf("%w: reply SLA not found", ErrNotFound)
	ErrSLAInactive          = fmt.Errorf("%w: reply SLA is not active", ErrInvalidState)
	ErrSlotLimitExceeded    = fmt.Errorf("%w: creator has no reply slots left today", ErrLimitExceeded)
	ErrReplyRequestNotFound = fmt.Errorf("%w: reply request not found", ErrNotFound)
	ErrNotRequestCreator    = fmt.Errorf("%w: only the creator can act on this request", ErrForbidden)
	ErrNotRequestRequester  = fmt.Errorf("%w: only the requester can act on this request", ErrForbidden)
	ErrNotRequestParty      = fmt.Errorf("%w: not a party to this request", ErrForbidden)
	ErrInvalidTransition    = fmt.Errorf("%w: reply request cannot make this transition", ErrInvalidState)
	ErrMissingContent       = fmt.Errorf("%w: delivery is missing content for the product type", ErrInvalidInput)
	ErrInvalidRating        = fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	ErrFeedbackExists       = fmt.Errorf("%w: feedback already submitted", ErrInvalidState)
	ErrMissingReason        = fmt.Errorf("%w: rejection reason required", ErrInvalidInput)

	ErrSelfSupport = fmt.Errorf("%w: cannot support yourself", ErrInvalidInput)

	ErrSelfSubscription       = fmt.Errorf("%w: cannot subscribe to yourself", ErrInvalidInput)
	ErrTierNotFound           = fmt.Errorf("%w: subscription tier not found", ErrNotFound)
	ErrTierInactive           = fmt.Errorf("%w: subscription tier is not active", ErrInvalidState)
	ErrTierFull               = fmt.Errorf("%w: subscription tier is full", ErrLimitExceeded)
	ErrAlreadySubscribed      = fmt.Errorf("%w: already subscribed", ErrInvalidState)
	ErrSubscriptionNotFound   = fmt.Errorf("%w: subscription not found", ErrNotFound)
	ErrSubscriptionNotActive  = fmt.Errorf("%w: subscription is not active", ErrInvalidState)
	ErrNotSubscriptionOwner   = fmt.Errorf("%w: subscription belongs to another user", ErrForbidden)
	ErrInvalidMaxSubscribers  = fmt.Errorf("%w: max subscribers must be positive", ErrInvalidInput)
	ErrCampaignNotFound       = fmt.Errorf("%w: campaign not found", ErrNotFound)
	ErrCampaignNotActive      = fmt.Errorf("%w: campaign is not accepting contributions", ErrInvalidState)
	ErrSelfContribution       = fmt.Errorf("%w: cannot contribute to your own campaign", ErrInvalidInput)
	ErrInvalidCampaignDates   = fmt.Errorf("%w: campaign must end after it starts and in the future", ErrInvalidInput)
	ErrInvalidCampaignStatus  = fmt.Errorf("%w: campaign cannot move to that status", ErrInvalidState)
	ErrNotCampaignOwner       = fmt.Errorf("%w: campaign belongs to another creator", ErrForbidden)
	ErrPaymentNotFound        = fmt.Errorf("%w: payment not found", ErrNotFound)
	ErrPaymentBelowMinimum    = fmt.Errorf("%w: payment is below the minimum charge", ErrInvalidInput)
	ErrPaymentFailed          = fmt.Errorf("%w: payment already failed", ErrInvalidState)
	ErrPaymentAlreadySettled  = fmt.Errorf("%w: payment already completed", ErrInvalidState)
	ErrDuplicatePayment       = fmt.Errorf("%w: payment already registered", ErrInvalidState)
	ErrMissingProviderPayment = fmt.Errorf("%w: provider payment id required", ErrInvalidInput)
	ErrNotificationNotFound   = fmt.Errorf("%w: notification not found", ErrNotFound)
)

var errorClasses = []error{
	ErrInvalidInput,
	ErrNotFound,
	ErrInsufficientBalance,
	ErrInvalidState,
	ErrLimitExceeded,
	ErrForbidden,
	ErrPersistence,
}

// IsDomainError reports whether err already carries an error class.
func IsDomainError(err error) bool {
	for _, class := range errorClasses {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

// unitError classifies an error returned by a unit of work. Domain errors
// pass through unchanged; anything else means the unit did not commit.
func unitError(err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
