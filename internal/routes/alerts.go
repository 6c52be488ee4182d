package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/alerts"
)

func RegisterAlertRoutes(r fiber.Router, h *alerts.Handler) {
	r.Get("/accounts/:accountId/alerts", h.Active)
	r.Post("/accounts/:accountId/alerts/read", h.MarkRead)
	r.Get("/accounts/:accountId/alert-threshold", h.Threshold)
	r.Put("/accounts/:accountId/alert-threshold", h.SetThreshold)
}
