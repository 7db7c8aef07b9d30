package model

import "errors"

// Error kinds surfaced by the economy core. Callers compare with errors.Is;
// services wrap them with context but never replace them.
var (
	// Accounts and balances
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountFrozen          = errors.New("account is frozen")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("amount must be positive and within range")
	ErrSelfTransferNotAllowed = errors.New("cannot transfer credits to yourself")

	// Marketplace
	ErrListingNotFound     = errors.New("listing not found")
	ErrListingAlreadySold  = errors.New("listing is no longer available")
	ErrListingExpired      = errors.New("listing has expired")
	ErrListingTypeMismatch = errors.New("operation not supported for this listing type")
	ErrSelfPurchase        = errors.New("cannot buy your own listing")
	ErrBidTooLow           = errors.New("bid is below the minimum accepted amount")
	ErrOfferNotFound       = errors.New("offer not found")
	ErrOfferNotPending     = errors.New("offer is not pending")

	// Items (inventory collaborator)
	ErrItemNotFound      = errors.New("item not found")
	ErrItemNotOwned      = errors.New("item is not owned by this user")
	ErrItemUnavailable   = errors.New("item ownership changed")
	ErrItemAlreadyListed = errors.New("item already has an active listing")

	// Trades
	ErrTradeNotFound           = errors.New("trade not found")
	ErrTradeNotPending         = errors.New("trade is not pending")
	ErrTradeExpired            = errors.New("trade has expired")
	ErrTradePreconditionFailed = errors.New("trade items or credits are no longer available")

	// Loans
	ErrLoanActive        = errors.New("an active loan already exists")
	ErrNoActiveLoan      = errors.New("no active loan")
	ErrLoanLimitExceeded = errors.New("loan amount exceeds the allowed limit")

	// Generic
	ErrUnauthorized   = errors.New("not allowed to act on this resource")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStateChanged   = errors.New("state changed concurrently, retry")
)
