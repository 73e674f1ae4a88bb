package domain

import "errors"

// Marketplace error kinds. Every engine failure wraps exactly one of these.
var (
	ErrInvalidStandard     = errors.New("invalid asset standard")
	ErrQuantityMustBeOne   = errors.New("quantity must be one for single-unit assets")
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAllow   = errors.New("insufficient allowance")
	ErrNotApproved         = errors.New("operator not approved")
	ErrBlacklisted         = errors.New("address is blacklisted")
	ErrOnceADay            = errors.New("only one auction listing per day")
	ErrNothingToBuy        = errors.New("nothing to buy")
	ErrNothingToCancel     = errors.New("nothing to cancel")
	ErrSaleNotStarted      = errors.New("sale has not started")
	ErrExpired             = errors.New("listing expired")
	ErrNoSuchLot           = errors.New("no such lot")
	ErrWrongAmount         = errors.New("wrong bid amount")
	ErrLotExpired          = errors.New("lot expired")
	ErrWrongTimestamp      = errors.New("too early to finish auction")
	ErrInvalidWindow       = errors.New("expiration precedes listing time")
	ErrSelfDealing         = errors.New("seller cannot trade with themselves")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrAccessDenied        = errors.New("access denied")
	ErrTokenExists         = errors.New("token already exists")
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)
