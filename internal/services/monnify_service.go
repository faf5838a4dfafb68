package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/grouple/internal/utils"
)

const (
	monnifyLoginPath = "/api/v1/auth/login"
	monnifyInitPath  = "/api/v1/merchant/transactions/init-transaction"
	monnifyQueryPath = "/api/v1/merchant/transactions/query"

	monnifyCurrencyCode = "NGN"

	paymentReferencePrefix = "MONNIFY"
	paymentReferenceLength = 10

	tokenRefreshLeeway = 30 * time.Second
	defaultTokenTTL    = 55 * time.Minute

	verifyRetryAttempts  = 3
	verifyRetryBaseDelay = 500 * time.Millisecond
)

// Payment statuses reported by Monnify's transaction query endpoint.
const (
	PaymentStatusPaid    = "PAID"
	PaymentStatusPending = "PENDING"
	PaymentStatusFailed  = "FAILED"
	PaymentStatusExpired = "EXPIRED"
)

// PaymentMethods supported on the hosted checkout page.
var SupportedPaymentMethods = []string{"CARD", "ACCOUNT_TRANSFER"}

// MonnifyService talks to the Monnify payment gateway. A single instance is
// shared across requests; the access token cache is guarded by a mutex.
type MonnifyService struct {
	apiKey       string
	secretKey    string
	contractCode string
	baseURL      string
	client       *http.Client

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewMonnifyService constructs a MonnifyService from static credentials.
func NewMonnifyService(apiKey, secretKey, contractCode, baseURL string) *MonnifyService {
	return &MonnifyService{
		apiKey:       apiKey,
		secretKey:    secretKey,
		contractCode: contractCode,
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

// monnifyEnvelope is the provider's standard response wrapper.
type monnifyEnvelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

// InitializeRequest carries inputs for a hosted-checkout transaction.
type InitializeRequest struct {
	Amount             float64
	CustomerName       string
	CustomerEmail      string
	PaymentMethods     []string
	PaymentReference   string
	PaymentDescription string
	RedirectURL        string
}

// InitializeResult is the outcome of a successful initialization.
type InitializeResult struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// PaymentStatus is the normalized result of a transaction query. It is
// always re-derived from the provider, never cached.
type PaymentStatus struct {
	PaymentStatus        string  `json:"paymentStatus"`
	PaidAmount           float64 `json:"paidAmount"`
	PaymentReference     string  `json:"paymentReference"`
	TransactionReference string  `json:"transactionReference"`
	PaymentMethod        string  `json:"paymentMethod"`
}

// Terminal reports whether the status will no longer change on the provider
// side, so polling can stop.
func (s *PaymentStatus) Terminal() bool {
	return s.PaymentStatus != PaymentStatusPending
}

func (m *MonnifyService) checkConfig() error {
	switch {
	case m.apiKey == "":
		return &ConfigError{Missing: "MONNIFY_API_KEY"}
	case m.secretKey == "":
		return &ConfigError{Missing: "MONNIFY_SECRET_KEY"}
	case m.baseURL == "":
		return &ConfigError{Missing: "MONNIFY_BASE_URL"}
	}
	return nil
}

// GetAuthToken returns a bearer token for the Monnify API, reusing the
// cached one while it remains valid.
func (m *MonnifyService) GetAuthToken(ctx context.Context) (string, error) {
	return m.getToken(ctx, false)
}

func (m *MonnifyService) getToken(ctx context.Context, force bool) (string, error) {
	if err := m.checkConfig(); err != nil {
		return "", err
	}

	if !force {
		m.tokenMu.RLock()
		if m.token != "" && time.Now().Before(m.tokenExpiry) {
			t := m.token
			m.tokenMu.RUnlock()
			return t, nil
		}
		m.tokenMu.RUnlock()
	}

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()

	// Check again in case another goroutine refreshed while we waited for the lock.
	if !force && m.token != "" && time.Now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+monnifyLoginPath, nil)
	if err != nil {
		return "", fmt.Errorf("build monnify auth request: %w", err)
	}
	authString := base64.StdEncoding.EncodeToString([]byte(m.apiKey + ":" + m.secretKey))
	req.Header.Set("Authorization", "Basic "+authString)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("monnify auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var envelope monnifyEnvelope
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Best effort at extracting the provider's message.
		_ = json.Unmarshal(body, &envelope)
		return "", &AuthError{Status: resp.StatusCode, Message: envelope.ResponseMessage}
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &MalformedResponseError{Body: body, Err: err}
	}
	if !envelope.RequestSuccessful {
		return "", &AuthError{Status: resp.StatusCode, Message: envelope.ResponseMessage}
	}

	var tokenBody struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(envelope.ResponseBody, &tokenBody); err != nil {
		return "", &MalformedResponseError{Body: body, Err: err}
	}
	if tokenBody.AccessToken == "" {
		return "", &MalformedResponseError{Body: body, Err: errors.New("empty access token")}
	}

	m.token = tokenBody.AccessToken
	if tokenBody.ExpiresIn > 0 {
		m.tokenExpiry = time.Now().Add(time.Duration(tokenBody.ExpiresIn)*time.Second - tokenRefreshLeeway)
	} else {
		m.tokenExpiry = time.Now().Add(defaultTokenTTL)
	}

	return m.token, nil
}

// NewPaymentReference generates a client-suggested payment reference.
func NewPaymentReference() (string, error) {
	suffix, err := utils.RandomString(paymentReferenceLength)
	if err != nil {
		return "", err
	}
	return paymentReferencePrefix + "_" + suffix, nil
}

// InitializeTransaction creates a hosted-checkout transaction and returns
// the redirect URL. A missing payment reference is generated on the fly;
// retries with the same reference lean on the provider's own idempotency.
func (m *MonnifyService) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if err := validateInitializeRequest(&req); err != nil {
		return nil, err
	}
	if m.contractCode == "" {
		if err := m.checkConfig(); err != nil {
			return nil, err
		}
		return nil, &ConfigError{Missing: "MONNIFY_CONTRACT_CODE"}
	}

	if req.PaymentReference == "" {
		ref, err := NewPaymentReference()
		if err != nil {
			return nil, fmt.Errorf("generate payment reference: %w", err)
		}
		req.PaymentReference = ref
	}
	if req.PaymentDescription == "" {
		req.PaymentDescription = "Payment for " + req.CustomerName
	}

	payload := map[string]any{
		"amount":             req.Amount,
		"customerName":       req.CustomerName,
		"customerEmail":      req.CustomerEmail,
		"paymentReference":   req.PaymentReference,
		"paymentDescription": req.PaymentDescription,
		"redirectUrl":        req.RedirectURL,
		"paymentMethods":     req.PaymentMethods,
		"currencyCode":       monnifyCurrencyCode,
		"contractCode":       m.contractCode,
	}

	envelope, err := m.doRequest(ctx, http.MethodPost, monnifyInitPath, nil, payload)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(envelope.ResponseBody, &result); err != nil {
		return nil, &MalformedResponseError{Body: envelope.ResponseBody, Err: err}
	}
	if result.CheckoutURL == "" {
		return nil, &MalformedResponseError{Body: envelope.ResponseBody, Err: errors.New("missing checkoutUrl")}
	}

	return &result, nil
}

// VerifyPayment queries the provider for the current status of a payment
// reference. It is a pure read and safe to call repeatedly; transient
// failures are retried with doubling backoff.
func (m *MonnifyService) VerifyPayment(ctx context.Context, paymentReference string) (*PaymentStatus, error) {
	if strings.TrimSpace(paymentReference) == "" {
		return nil, &ValidationError{Message: "payment reference is required"}
	}

	var status *PaymentStatus
	err := withRetry(ctx, verifyRetryAttempts, verifyRetryBaseDelay, func() error {
		envelope, err := m.doRequest(ctx, http.MethodGet, monnifyQueryPath, url.Values{
			"paymentReference": {paymentReference},
		}, nil)
		if err != nil {
			return err
		}

		var body struct {
			PaymentStatus        string  `json:"paymentStatus"`
			AmountPaid           float64 `json:"amountPaid"`
			PaymentReference     string  `json:"paymentReference"`
			TransactionReference string  `json:"transactionReference"`
			PaymentMethod        string  `json:"paymentMethod"`
		}
		if err := json.Unmarshal(envelope.ResponseBody, &body); err != nil {
			return &MalformedResponseError{Body: envelope.ResponseBody, Err: err}
		}

		status = &PaymentStatus{
			PaymentStatus:        body.PaymentStatus,
			PaidAmount:           body.AmountPaid,
			PaymentReference:     body.PaymentReference,
			TransactionReference: body.TransactionReference,
			PaymentMethod:        body.PaymentMethod,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return status, nil
}

// doRequest performs an authenticated Monnify API call, refreshing the token
// and replaying the request once if the provider answers 401.
func (m *MonnifyService) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*monnifyEnvelope, error) {
	token, err := m.getToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, raw, err := m.send(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		token, err = m.getToken(ctx, true)
		if err != nil {
			return nil, err
		}
		resp, raw, err = m.send(ctx, method, path, query, body, token)
		if err != nil {
			return nil, err
		}
	}

	var envelope monnifyEnvelope
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = json.Unmarshal(raw, &envelope)
		message := envelope.ResponseMessage
		if message == "" {
			message = resp.Status
		}
		return nil, &ProviderError{Status: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Printf("[Monnify] undecodable response body: %s", raw)
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}
	if !envelope.RequestSuccessful {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: envelope.ResponseMessage}
	}

	return &envelope, nil
}

func (m *MonnifyService) send(ctx context.Context, method, path string, query url.Values, body any, token string) (*http.Response, []byte, error) {
	endpoint := m.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal monnify payload: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("build monnify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("monnify request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return resp, raw, nil
}

func validateInitializeRequest(req *InitializeRequest) error {
	if req.Amount <= 0 {
		return &ValidationError{Message: "amount must be greater than zero"}
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return &ValidationError{Message: "customer name is required"}
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return &ValidationError{Message: "customer email is invalid"}
	}
	if len(req.PaymentMethods) == 0 {
		return &ValidationError{Message: "at least one payment method is required"}
	}
	for _, method := range req.PaymentMethods {
		if !isSupportedPaymentMethod(method) {
			return &ValidationError{Message: "unsupported payment method: " + method}
		}
	}
	return nil
}

func isSupportedPaymentMethod(method string) bool {
	for _, supported := range SupportedPaymentMethods {
		if method == supported {
			return true
		}
	}
	return false
}

// withRetry runs fn up to attempts times with doubling backoff. Only
// transient failures are retried: provider 5xx, auth failures (worth one
// more try per the provider's guidance) and transport errors. Validation and
// malformed-response errors surface immediately.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Status >= 500
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var validationErr *ValidationError
	var malformedErr *MalformedResponseError
	var configErr *ConfigError
	if errors.As(err, &validationErr) || errors.As(err, &malformedErr) || errors.As(err, &configErr) {
		return false
	}
	// Transport-level failure.
	return true
}
