package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/funding"
)

// RegisterFundingRoutes wires cash-in, cash-out and receipt endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, limiter fiber.Handler) {
	r.Post("/accounts/:accountId/cash-in", limiter, h.CashIn)
	r.Post("/accounts/:accountId/cash-out", limiter, h.CashOut)
	r.Get("/receipts/:reference", h.Receipt)
}
