package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires balance, history and direct mutation endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, limiter fiber.Handler) {
	r.Get("/accounts/:accountId/balance", h.AccountBalance)
	r.Get("/accounts/:accountId/transactions", h.AccountHistory)
	r.Post("/wallets/:walletId/credit", limiter, h.Credit)
	r.Post("/wallets/:walletId/debit", limiter, h.Debit)
}
