package types

import (
	"errors"
	"fmt"
)

var (
	ErrCampaignNotFound           = errors.New("campaign not found")
	ErrInvalidCampaign            = errors.New("invalid campaign")
	ErrInvalidShareConfiguration  = errors.New("invalid share configuration")
	ErrNegativeNetAmount          = errors.New("fees exceed raised amount")
	ErrSettlementNotFound         = errors.New("settlement not found")
	ErrPayoutNotFound             = errors.New("payout not found")
	ErrInvalidPayoutTransition    = errors.New("invalid payout status transition")
	ErrFundingTransactionNotFound = errors.New("funding transaction not found")
	ErrInvalidFundingTransition   = errors.New("invalid funding status transition")
	ErrInvalidCampaignTransition  = errors.New("invalid campaign status transition")
	ErrAgreementNotFound          = errors.New("share agreement not found")
	ErrInvalidFunding             = errors.New("invalid funding transaction")
	ErrCampaignNotAccepting       = errors.New("campaign is not accepting funding")
)

// StorageError wraps a failure of the underlying store. It is never retried
// inside the engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var domainErrors = []error{
	ErrCampaignNotFound,
	ErrInvalidCampaign,
	ErrInvalidShareConfiguration,
	ErrNegativeNetAmount,
	ErrSettlementNotFound,
	ErrPayoutNotFound,
	ErrInvalidPayoutTransition,
	ErrFundingTransactionNotFound,
	ErrInvalidFundingTransition,
	ErrInvalidCampaignTransition,
	ErrAgreementNotFound,
	ErrInvalidFunding,
	ErrCampaignNotAccepting,
}

// IsDomainError reports whether err carries one of the sentinel errors above.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NewStorageError wraps err unless it is nil, already a StorageError, or a
// domain error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || IsDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
