package services

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/grouple/internal/models"
)

// Checkout states reported to the status page. The page renders exactly one
// of these and stops polling on the terminal two.
const (
	CheckoutStatusProcessing = "processing"
	CheckoutStatusSucceeded  = "succeeded"
	CheckoutStatusFailed     = "failed"
)

// Webhook event types delivered by the provider.
const (
	EventSuccessfulTransaction = "SUCCESSFUL_TRANSACTION"
	EventFailedTransaction     = "FAILED_TRANSACTION"
)

// PaymentGateway is the slice of the provider client the orchestrator needs.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyPayment(ctx context.Context, paymentReference string) (*PaymentStatus, error)
}

// GroupMaterializer creates groups for confirmed payments, idempotently per
// payment reference.
type GroupMaterializer interface {
	MaterializeGroup(ctx context.Context, params MaterializeGroupParams) (*models.Group, error)
	FindGroupByReference(ctx context.Context, paymentReference string) (*models.Group, error)
}

// CheckoutService drives the paid group-creation flow: initialize a
// transaction, park the intent across the off-site redirect, then reconcile
// the outcome from either the status-page polling path or the webhook path.
type CheckoutService struct {
	gateway     PaymentGateway
	groups      GroupMaterializer
	intents     IntentStore
	groupFee    float64
	redirectURL string
}

func NewCheckoutService(gateway PaymentGateway, groups GroupMaterializer, intents IntentStore, groupFee float64, redirectURL string) *CheckoutService {
	return &CheckoutService{
		gateway:     gateway,
		groups:      groups,
		intents:     intents,
		groupFee:    groupFee,
		redirectURL: redirectURL,
	}
}

// BeginCheckoutRequest is the validated creation-form submission.
type BeginCheckoutRequest struct {
	UserID        uuid.UUID
	Name          string
	Category      string
	CustomerEmail string
	PaymentMethod string
}

// BeginCheckoutResult points the browser at the hosted checkout page.
type BeginCheckoutResult struct {
	PaymentReference     string `json:"paymentReference"`
	TransactionReference string `json:"transactionReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// CheckoutStatus is the status page's view of the flow.
type CheckoutStatus struct {
	Status  string         `json:"status"`
	Payment *PaymentStatus `json:"payment,omitempty"`
	Group   *models.Group  `json:"group,omitempty"`
	Message string         `json:"message,omitempty"`
}

// WebhookEvent is a signature-verified provider callback.
type WebhookEvent struct {
	EventType            string
	PaymentReference     string
	TransactionReference string
	AmountPaid           float64
}

// Begin validates the form, initializes a provider transaction and durably
// stores the checkout intent keyed by the generated payment reference.
// Nothing is persisted if initialization fails.
func (s *CheckoutService) Begin(ctx context.Context, req BeginCheckoutRequest) (*BeginCheckoutResult, error) {
	if err := validateBeginRequest(req); err != nil {
		return nil, err
	}

	result, err := s.gateway.InitializeTransaction(ctx, InitializeRequest{
		Amount:             s.groupFee,
		CustomerName:       req.Name,
		CustomerEmail:      req.CustomerEmail,
		PaymentMethods:     []string{req.PaymentMethod},
		PaymentDescription: "Group creation: " + req.Name,
		RedirectURL:        s.redirectURL,
	})
	if err != nil {
		return nil, err
	}

	intent := &models.CheckoutIntent{
		PaymentReference: result.PaymentReference,
		UserID:           req.UserID,
		GroupName:        req.Name,
		Category:         req.Category,
		CustomerEmail:    req.CustomerEmail,
		PaymentMethod:    req.PaymentMethod,
		Amount:           s.groupFee,
	}
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, err
	}

	return &BeginCheckoutResult{
		PaymentReference:     result.PaymentReference,
		TransactionReference: result.TransactionReference,
		CheckoutURL:          result.CheckoutURL,
	}, nil
}

// Resolve checks the current payment state for a reference and, on a
// confirmed payment, materializes the group and consumes the stored intent.
// It tolerates the webhook path having already materialized: the duplicate
// attempt collapses into returning the existing group.
func (s *CheckoutService) Resolve(ctx context.Context, paymentReference string) (*CheckoutStatus, error) {
	if strings.TrimSpace(paymentReference) == "" {
		return nil, &ValidationError{Message: "payment reference is required"}
	}

	status, err := s.gateway.VerifyPayment(ctx, paymentReference)
	if err != nil {
		// Verification errors leave the intent in place; the failure may be
		// transient and the client may poll again.
		return nil, err
	}

	switch status.PaymentStatus {
	case PaymentStatusPaid:
		group, err := s.materializeFromIntent(ctx, paymentReference, status.TransactionReference, status.PaidAmount)
		if err != nil {
			if errors.Is(err, ErrIntentNotFound) {
				return &CheckoutStatus{
					Status:  CheckoutStatusFailed,
					Payment: status,
					Message: "checkout session not found for this payment",
				}, nil
			}
			return nil, err
		}
		return &CheckoutStatus{Status: CheckoutStatusSucceeded, Payment: status, Group: group}, nil

	case PaymentStatusPending:
		return &CheckoutStatus{Status: CheckoutStatusProcessing, Payment: status}, nil

	default:
		// Terminal non-paid state: the intent is no longer actionable.
		if err := s.intents.Delete(ctx, paymentReference); err != nil {
			log.Printf("[Checkout] failed to delete intent %s: %v", paymentReference, err)
		}
		return &CheckoutStatus{
			Status:  CheckoutStatusFailed,
			Payment: status,
			Message: "Payment " + strings.ToLower(status.PaymentStatus),
		}, nil
	}
}

// HandleWebhookEvent reconciles a verified provider callback. A returned
// error means materialization failed and the provider should redeliver.
func (s *CheckoutService) HandleWebhookEvent(ctx context.Context, event WebhookEvent) error {
	switch event.EventType {
	case EventSuccessfulTransaction:
		_, err := s.materializeFromIntent(ctx, event.PaymentReference, event.TransactionReference, event.AmountPaid)
		if errors.Is(err, ErrIntentNotFound) {
			// Either the polling path already consumed the intent (the group
			// exists, checked inside materializeFromIntent) or this payment
			// was never tied to a checkout started here. Acknowledge so the
			// provider stops redelivering.
			log.Printf("[Webhook] no checkout intent for %s, acknowledging", event.PaymentReference)
			return nil
		}
		return err

	case EventFailedTransaction:
		if err := s.intents.Delete(ctx, event.PaymentReference); err != nil {
			log.Printf("[Webhook] failed to delete intent %s: %v", event.PaymentReference, err)
		}
		return nil

	default:
		// Forward compatibility: unknown event types are acknowledged, not errors.
		log.Printf("[Webhook] ignoring event type %q", event.EventType)
		return nil
	}
}

// materializeFromIntent turns a stored intent into a group. When the intent
// is already gone it falls back to the group created by the competing path;
// ErrIntentNotFound is returned only when neither exists.
func (s *CheckoutService) materializeFromIntent(ctx context.Context, paymentReference, transactionReference string, paidAmount float64) (*models.Group, error) {
	intent, err := s.intents.Find(ctx, paymentReference)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			group, findErr := s.groups.FindGroupByReference(ctx, paymentReference)
			if findErr == nil {
				return group, nil
			}
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return nil, ErrIntentNotFound
			}
			return nil, findErr
		}
		return nil, err
	}

	group, err := s.groups.MaterializeGroup(ctx, MaterializeGroupParams{
		PaymentReference:     paymentReference,
		TransactionReference: transactionReference,
		PaidAmount:           paidAmount,
		Name:                 intent.GroupName,
		Category:             intent.Category,
		UserID:               intent.UserID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.intents.Delete(ctx, paymentReference); err != nil {
		log.Printf("[Checkout] group %s created but intent cleanup failed: %v", group.ID, err)
	}

	return group, nil
}

func validateBeginRequest(req BeginCheckoutRequest) error {
	if req.UserID == uuid.Nil {
		return &ValidationError{Message: "user id is required"}
	}
	if len(strings.TrimSpace(req.Name)) < 3 {
		return &ValidationError{Message: "group name must be at least 3 characters"}
	}
	if strings.TrimSpace(req.Category) == "" {
		return &ValidationError{Message: "category is required"}
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return &ValidationError{Message: "customer email is invalid"}
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return &ValidationError{Message: "unsupported payment method: " + req.PaymentMethod}
	}
	return nil
}
