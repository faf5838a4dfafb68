package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/grouple/internal/middleware"
	"github.com/example/grouple/internal/services"
)

// CheckoutHandler drives the paid group-creation flow for the browser.
type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type beginCheckoutRequest struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	CustomerEmail string `json:"customerEmail"`
	PaymentMethod string `json:"paymentMethod"`
}

// Begin validates the creation form, initializes a provider transaction and
// returns the hosted checkout URL the browser should navigate to.
func (h *CheckoutHandler) Begin(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req beginCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}

	result, err := h.checkout.Begin(c.Context(), services.BeginCheckoutRequest{
		UserID:        userID,
		Name:          req.Name,
		Category:      req.Category,
		CustomerEmail: req.CustomerEmail,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(result)
}

// Status is polled by the status page after the provider redirects back.
// On a confirmed payment it materializes the group and consumes the stored
// intent; the page stops polling once the state is terminal.
func (h *CheckoutHandler) Status(c *fiber.Ctx) error {
	if _, ok := middleware.GetCurrentUserID(c); !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	status, err := h.checkout.Resolve(c.Context(), c.Query("paymentReference"))
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(status)
}
