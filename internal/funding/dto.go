package funding

import (
	"github.com/congo-pay/walletledger/internal/ledger"
)

// MoveRequest is the body of cash-in and cash-out calls. Amount is a decimal
// string such as "125.50". Reference is an optional client token that makes
// retries replay the first outcome.
type MoveRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// CashInResponse is returned after a successful deposit.
type CashInResponse struct {
	Transaction ledger.Entry  `json:"transaction"`
	Wallet      ledger.Wallet `json:"wallet"`
}

// CashOutResponse is returned after a settled withdrawal.
type CashOutResponse struct {
	Transaction ledger.Entry  `json:"transaction"`
	Wallet      ledger.Wallet `json:"wallet"`
	Reservation ledger.Entry  `json:"reservation"`
}

// ErrorResponse carries a typed failure back to the caller.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
