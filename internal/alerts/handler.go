package alerts

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes alert endpoints scoped to an account.
type Handler struct {
	service *Service
}

// NewHandler constructs an alerts handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type markReadRequest struct {
	AlertIDs []string `json:"alert_ids"`
}

type thresholdRequest struct {
	Threshold *decimal.Decimal `json:"threshold"`
}

// Active lists the account's unread alerts.
func (h *Handler) Active(c *fiber.Ctx) error {
	list, source, err := h.service.ActiveAlerts(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "failed to retrieve alerts")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"alerts": list, "source": source})
}

// MarkRead marks the listed alerts as read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if len(req.AlertIDs) == 0 {
		return fiber.NewError(http.StatusBadRequest, "alert_ids must be a non-empty array")
	}
	if _, err := h.service.MarkRead(c.UserContext(), c.Params("accountId"), req.AlertIDs); err != nil {
		return fiber.NewError(http.StatusInternalServerError, "failed to update alerts")
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetThreshold stores the account's low balance threshold.
func (h *Handler) SetThreshold(c *fiber.Ctx) error {
	var req thresholdRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Threshold == nil {
		return fiber.NewError(http.StatusBadRequest, "threshold is required")
	}
	accountID := c.Params("accountId")
	if err := h.service.SetThreshold(c.UserContext(), accountID, *req.Threshold); err != nil {
		if errors.Is(err, ErrInvalidThreshold) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, "failed to store threshold")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account_id": accountID, "threshold": req.Threshold.String()})
}

// Threshold returns the account's low balance threshold, 404 when unset.
func (h *Handler) Threshold(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	threshold, ok, err := h.service.Threshold(c.UserContext(), accountID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "failed to load threshold")
	}
	if !ok {
		return fiber.NewError(http.StatusNotFound, "no threshold set")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"account_id": accountID, "threshold": threshold.String()})
}
