package handlers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/example/grouple/internal/services"
)

// PaymentHandler exposes the Monnify-facing endpoints.
type PaymentHandler struct {
	monnify       *services.MonnifyService
	checkout      *services.CheckoutService
	webhookSecret string
	redirectURL   string
}

func NewPaymentHandler(monnify *services.MonnifyService, checkout *services.CheckoutService, webhookSecret, redirectURL string) *PaymentHandler {
	return &PaymentHandler{
		monnify:       monnify,
		checkout:      checkout,
		webhookSecret: webhookSecret,
		redirectURL:   redirectURL,
	}
}

type initializeRequest struct {
	Amount             float64  `json:"amount"`
	CustomerName       string   `json:"customerName"`
	CustomerEmail      string   `json:"customerEmail"`
	PaymentMethods     []string `json:"paymentMethods"`
	PaymentReference   string   `json:"paymentReference"`
	PaymentDescription string   `json:"paymentDescription"`
	RedirectURL        string   `json:"redirectUrl"`
}

// Initialize creates a hosted-checkout transaction with the provider.
func (h *PaymentHandler) Initialize(c *fiber.Ctx) error {
	var req initializeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}

	if req.RedirectURL == "" {
		req.RedirectURL = h.redirectURL
	}

	result, err := h.monnify.InitializeTransaction(c.Context(), services.InitializeRequest{
		Amount:             req.Amount,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		PaymentMethods:     req.PaymentMethods,
		PaymentReference:   req.PaymentReference,
		PaymentDescription: req.PaymentDescription,
		RedirectURL:        req.RedirectURL,
	})
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(result)
}

// Verify reports the current provider-side status of a payment reference.
// It is a pure read; materialization happens in the checkout status endpoint
// and the webhook, never here.
func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	paymentReference := c.Query("paymentReference")

	status, err := h.monnify.VerifyPayment(c.Context(), paymentReference)
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(status)
}

// webhookPayload accepts both the eventData envelope Monnify sends and the
// flat shape used by older deliveries; nested fields win.
type webhookPayload struct {
	EventType            string  `json:"eventType"`
	PaymentReference     string  `json:"paymentReference"`
	TransactionReference string  `json:"transactionReference"`
	AmountPaid           float64 `json:"amountPaid"`
	EventData            struct {
		PaymentReference     string  `json:"paymentReference"`
		TransactionReference string  `json:"transactionReference"`
		AmountPaid           float64 `json:"amountPaid"`
	} `json:"eventData"`
}

// Webhook receives asynchronous provider callbacks. The HMAC-SHA512
// signature is verified over the raw request body before any parsing; a
// re-serialized body would not match byte-for-byte.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	signature := c.Get("monnify-signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "missing signature header"})
	}

	if h.webhookSecret == "" {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "secret key not configured"})
	}

	body := c.Body()
	mac := hmac.New(sha512.New, []byte(h.webhookSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(signature)) {
		// Reject without revealing whether the payload was otherwise well-formed.
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid payload"})
	}

	event := services.WebhookEvent{
		EventType:            payload.EventType,
		PaymentReference:     payload.PaymentReference,
		TransactionReference: payload.TransactionReference,
		AmountPaid:           payload.AmountPaid,
	}
	if payload.EventData.PaymentReference != "" {
		event.PaymentReference = payload.EventData.PaymentReference
	}
	if payload.EventData.TransactionReference != "" {
		event.TransactionReference = payload.EventData.TransactionReference
	}
	if payload.EventData.AmountPaid != 0 {
		event.AmountPaid = payload.EventData.AmountPaid
	}

	if err := h.checkout.HandleWebhookEvent(c.Context(), event); err != nil {
		log.Printf("[Webhook] processing %s for %s failed: %v", event.EventType, event.PaymentReference, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to process event"})
	}

	return c.JSON(fiber.Map{"message": "webhook processed successfully"})
}

// writePaymentError maps the payment error taxonomy onto HTTP statuses with
// a JSON message body. Raw provider bodies and stack traces never reach the
// client.
func writePaymentError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": validationErr.Message})
	}

	var authErr *services.AuthError
	if errors.As(err, &authErr) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": authErr.Error()})
	}

	var providerErr *services.ProviderError
	if errors.As(err, &providerErr) {
		status := providerErr.Status
		if status < 400 || status > 599 {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{"message": providerErr.Message})
	}

	var configErr *services.ConfigError
	if errors.As(err, &configErr) {
		log.Printf("[Payment] configuration error: %v", configErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "payment provider is not configured"})
	}

	var malformedErr *services.MalformedResponseError
	if errors.As(err, &malformedErr) {
		log.Printf("[Payment] malformed provider response: %v", malformedErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "unexpected response from payment provider"})
	}

	var persistenceErr *services.PersistenceError
	if errors.As(err, &persistenceErr) {
		log.Printf("[Payment] persistence error: %v", persistenceErr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "internal server error"})
	}

	log.Printf("[Payment] unexpected error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "internal server error"})
}
