package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/ledger"
)

// Handler exposes the cash-in, cash-out and receipt endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CashIn deposits funds into the account's wallet.
func (h *Handler) CashIn(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.service.CashIn(c.UserContext(), CashInInput{
		AccountID:   c.Params("accountId"),
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(CashInResponse{Transaction: result.Entry, Wallet: result.Wallet})
}

// CashOut withdraws funds from the account's wallet.
func (h *Handler) CashOut(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}

	result, err := h.service.CashOut(c.UserContext(), CashOutInput{
		AccountID:   c.Params("accountId"),
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if errors.Is(err, ErrSettlementPending) {
		return c.Status(http.StatusAccepted).JSON(CashOutResponse{Transaction: result.Entry, Wallet: result.Wallet, Reservation: result.Pending})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(CashOutResponse{Transaction: result.Entry, Wallet: result.Wallet, Reservation: result.Pending})
}

// Receipt returns the entry recorded under a reference token.
func (h *Handler) Receipt(c *fiber.Ctx) error {
	entry, err := h.service.GetReceipt(c.UserContext(), c.Params("reference"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(entry)
}

// ErrorStatus maps a failure to its HTTP status and stable code. Saga kinds
// are matched first since a SagaError also wraps its ledger cause.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrCompensationFailed):
		return http.StatusInternalServerError, "compensation_failed"
	case errors.Is(err, ErrReconciliationRequired):
		return http.StatusInternalServerError, "reconciliation_required"
	case errors.Is(err, ErrWithdrawalFailedAndRefunded):
		return http.StatusBadGateway, "withdrawal_failed_and_refunded"
	case errors.Is(err, ErrPaymentProviderFailed):
		return http.StatusBadGateway, "payment_provider_failed"
	case errors.Is(err, ErrSettlementPending):
		return http.StatusAccepted, "settlement_pending"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidReference):
		return http.StatusBadRequest, "invalid_reference"
	case errors.Is(err, ledger.ErrCurrencyMismatch):
		return http.StatusBadRequest, "currency_mismatch"
	case errors.Is(err, ledger.ErrDuplicateReference):
		return http.StatusConflict, "duplicate_reference"
	case errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := ErrorStatus(err)
	body := ErrorResponse{Error: err.Error(), Code: code}
	var saga *SagaError
	if errors.As(err, &saga) {
		body.Error = saga.Kind.Error()
		body.Reference = saga.Reference
		body.Reason = saga.Reason
	}
	if status == http.StatusInternalServerError && saga == nil {
		body.Error = "internal error"
	}
	return c.Status(status).JSON(body)
}
