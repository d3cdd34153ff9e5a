package service

import "errors"

var (
	ErrValidation = errors.New("validation failed")

	ErrTenantNotFound    = errors.New("tenant not found")
	ErrTenantInactive    = errors.New("tenant is inactive")
	ErrProjectNameTaken  = errors.New("project name already in use")
	ErrOperatorNotFound  = errors.New("operator not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidCredential = errors.New("invalid email or password")

	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrProviderUnavailable     = errors.New("provider is not available")
	ErrInvalidTransition       = errors.New("invalid transaction state transition")
	ErrInvalidCallbackToken    = errors.New("invalid callback token")
	ErrInvalidCallbackSig      = errors.New("invalid callback signature")
	ErrInvalidCallbackPayload  = errors.New("invalid callback payload")
	ErrProviderMismatch        = errors.New("callback provider does not match transaction")

	ErrWalletNotFound    = errors.New("wallet not found")
	ErrBelowMinimum      = errors.New("wallet balance is below the cash-out minimum")
	ErrCashOutNotFound   = errors.New("cash-out request not found")
	ErrCashOutNotPending = errors.New("cash-out request is not pending")
	ErrReferenceRequired = errors.New("payment reference is required")

	ErrDeliveryNotFound  = errors.New("callback delivery not found")
	ErrDeliveryNotFailed = errors.New("callback delivery is not in FAILED state")
)
