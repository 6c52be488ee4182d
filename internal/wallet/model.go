package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source tells where a balance was read from.
type Source string

const (
	SourceCache Source = "cache"
	SourceDB    Source = "db"
)

// Balance is the available amount of a wallet at read time.
type Balance struct {
	WalletID string          `json:"wallet_id"`
	Amount   decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Source   Source          `json:"source"`
	AsOf     time.Time       `json:"timestamp"`
}
