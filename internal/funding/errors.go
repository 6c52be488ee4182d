package funding

import (
	"errors"
	"fmt"
)

var (
	// ErrPaymentProviderFailed means the provider refused a deposit; nothing
	// was written locally.
	ErrPaymentProviderFailed = errors.New("payment provider failed")

	// ErrWithdrawalFailedAndRefunded means the provider refused a withdrawal
	// and the reserved funds were credited back.
	ErrWithdrawalFailedAndRefunded = errors.New("withdrawal failed and refunded")

	// ErrCompensationFailed means the refund of a failed withdrawal could not
	// be recorded. The wallet stays debited until someone reconciles it.
	ErrCompensationFailed = errors.New("compensation failed, manual reconciliation required")

	// ErrSettlementPending means the withdrawal outcome is unknown. The
	// reservation stays pending until the reconciler resolves it.
	ErrSettlementPending = errors.New("settlement pending")

	// ErrReconciliationRequired means the provider accepted a movement the
	// ledger could not record.
	ErrReconciliationRequired = errors.New("ledger out of sync with provider, manual reconciliation required")

	// ErrTransactionNotFound is returned for unknown receipt references.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// SagaError describes a failed money movement. It matches both its Kind and
// the underlying cause under errors.Is.
type SagaError struct {
	Kind      error
	Reference string
	Reason    string
	Err       error
}

func (e *SagaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v (ref %s)", e.Kind, e.Reference)
	}
	return fmt.Sprintf("%v: %s (ref %s)", e.Kind, e.Reason, e.Reference)
}

func (e *SagaError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
