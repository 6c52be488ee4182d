package wallet

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type mutationRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type mutationResponse struct {
	Transaction ledger.Entry  `json:"transaction"`
	Wallet      ledger.Wallet `json:"wallet"`
}

// AccountBalance returns the balance of the account's wallet.
func (h *Handler) AccountBalance(c *fiber.Ctx) error {
	balance, err := h.service.BalanceForAccount(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// AccountHistory lists the account's latest transactions.
func (h *Handler) AccountHistory(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil || limit < 0 {
		return fiber.NewError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	w, err := h.service.WalletForAccount(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	entries, err := h.service.History(c.UserContext(), w.ID, limit)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallet_id": w.ID, "transactions": entries})
}

// Credit adds funds to a wallet.
func (h *Handler) Credit(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Credit)
}

// Debit removes funds from a wallet.
func (h *Handler) Debit(c *fiber.Ctx) error {
	return h.mutate(c, h.service.Debit)
}

type mutateFunc func(ctx context.Context, walletID string, amount decimal.Decimal, description string) (ledger.Entry, ledger.Wallet, error)

func (h *Handler) mutate(c *fiber.Ctx, fn mutateFunc) error {
	var req mutationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return mapError(err)
	}
	entry, w, err := fn(c.UserContext(), c.Params("walletId"), amount, req.Description)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(mutationResponse{Transaction: entry, Wallet: w})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrCurrencyMismatch):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
