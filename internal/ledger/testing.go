package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedWallet is a test helper that creates the account's wallet and funds it
// through a completed credit entry, keeping the balance equal to the sum of
// its entries.
func SeedWallet(ctx context.Context, s Store, accountID, currency string, amount decimal.Decimal) (Wallet, error) {
	w, err := s.FindOrCreateWallet(ctx, accountID, currency)
	if err != nil {
		return Wallet{}, err
	}
	if !amount.IsPositive() {
		return w, nil
	}
	_, w, err = s.MutateBalance(ctx, Mutation{
		WalletID:    w.ID,
		Kind:        KindCredit,
		Amount:      amount,
		Description: "seed",
	})
	return w, err
}
