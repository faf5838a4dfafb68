package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/grouple/internal/database"
	"github.com/example/grouple/internal/models"
	"github.com/example/grouple/internal/services"
)

const testWebhookSecret = "TEST_SECRET"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// newPaymentApp wires the payment routes the way routes.Register does, with
// the provider client pointed at baseURL.
func newPaymentApp(t *testing.T, baseURL string) (*fiber.App, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	monnify := services.NewMonnifyService("MK_TEST_KEY", testWebhookSecret, "100693167467", baseURL)
	checkout := services.NewCheckoutService(
		monnify,
		services.NewGroupService(db),
		services.NewGormIntentStore(db),
		1000,
		"http://localhost:3000/payment-status",
	)
	handler := NewPaymentHandler(monnify, checkout, testWebhookSecret, "http://localhost:3000/payment-status")

	app := fiber.New()
	payment := app.Group("/api/payment")
	payment.Post("/initialize", handler.Initialize)
	payment.Get("/verify", handler.Verify)
	payment.Post("/webhook", handler.Webhook)

	return app, db
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func seedIntent(t *testing.T, db *gorm.DB, ref string) {
	t.Helper()
	intent := models.CheckoutIntent{
		PaymentReference: ref,
		UserID:           uuid.New(),
		GroupName:        "Design Campus",
		Category:         "design",
		CustomerEmail:    "a@b.com",
		PaymentMethod:    "ACCOUNT_TRANSFER",
		Amount:           1000,
	}
	if err := db.Create(&intent).Error; err != nil {
		t.Fatalf("failed to seed intent: %v", err)
	}
}

func successPayload(ref string) []byte {
	return []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"` + ref + `","transactionReference":"MNFY|20250901|000001","amountPaid":1000}}`)
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("monnify-signature", signature)
	}
	return req
}

func countGroups(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Group{}).Count(&n).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestWebhook_MissingSignatureHeader(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")
	ref := "MONNIFY_ABCDEFGH12"
	seedIntent(t, db, ref)

	resp, err := app.Test(webhookRequest(successPayload(ref), ""))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	// The payload must not have been processed.
	if countGroups(t, db) != 0 {
		t.Error("Expected no group to be created without a signature")
	}
	var intents int64
	if err := db.Model(&models.CheckoutIntent{}).Count(&intents).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if intents != 1 {
		t.Error("Expected the intent to be untouched")
	}
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")
	ref := "MONNIFY_ABCDEFGH12"
	seedIntent(t, db, ref)

	original := successPayload(ref)
	signature := signBody(testWebhookSecret, original)
	tampered := bytes.Replace(original, []byte(`"amountPaid":1000`), []byte(`"amountPaid":9000`), 1)

	resp, err := app.Test(webhookRequest(tampered, signature))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
	if countGroups(t, db) != 0 {
		t.Error("Expected no group from a tampered payload")
	}
}

func TestWebhook_ValidSignatureMaterializesGroup(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")
	ref := "MONNIFY_ABCDEFGH12"
	seedIntent(t, db, ref)

	body := successPayload(ref)
	resp, err := app.Test(webhookRequest(body, signBody(testWebhookSecret, body)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var group models.Group
	if err := db.Where("payment_reference = ?", ref).First(&group).Error; err != nil {
		t.Fatalf("Expected the group to exist: %v", err)
	}
	if group.PaidAmount != 1000 {
		t.Errorf("Expected paid amount 1000, got %v", group.PaidAmount)
	}
	if group.Status != models.GroupStatusPending {
		t.Errorf("Expected status PENDING, got %q", group.Status)
	}
}

func TestWebhook_DuplicateDeliveryKeepsOneGroup(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")
	ref := "MONNIFY_ABCDEFGH12"
	seedIntent(t, db, ref)

	body := successPayload(ref)
	signature := signBody(testWebhookSecret, body)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(webhookRequest(body, signature))
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200 on delivery %d, got %d", i, resp.StatusCode)
		}
	}

	if got := countGroups(t, db); got != 1 {
		t.Errorf("Expected exactly one group after duplicate delivery, got %d", got)
	}
}

func TestWebhook_FailedTransactionAcknowledged(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")
	ref := "MONNIFY_ABCDEFGH12"
	seedIntent(t, db, ref)

	body := []byte(`{"eventType":"FAILED_TRANSACTION","eventData":{"paymentReference":"` + ref + `"}}`)
	resp, err := app.Test(webhookRequest(body, signBody(testWebhookSecret, body)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if countGroups(t, db) != 0 {
		t.Error("Expected no group for a failed transaction")
	}
}

func TestWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	app, db := newPaymentApp(t, "http://unused")

	body := []byte(`{"eventType":"SETTLEMENT_COMPLETED","eventData":{"paymentReference":"MONNIFY_ABCDEFGH12"}}`)
	resp, err := app.Test(webhookRequest(body, signBody(testWebhookSecret, body)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for forward compatibility, got %d", resp.StatusCode)
	}
	if countGroups(t, db) != 0 {
		t.Error("Expected no side effects for an unhandled event type")
	}
}

func fakeMonnify(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseMessage":"success","responseBody":{"accessToken":"token-1","expiresIn":3600}}`))
	})
	mux.HandleFunc("/api/v1/merchant/transactions/init-transaction", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"requestSuccessful": true,
			"responseMessage":   "success",
			"responseBody": map[string]any{
				"transactionReference": "MNFY|20250901|000001",
				"paymentReference":     req["paymentReference"],
				"checkoutUrl":          "https://sandbox.monnify.com/checkout/MNFY20250901000001",
			},
		})
	})
	mux.HandleFunc("/api/v1/merchant/transactions/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"requestSuccessful": true,
			"responseMessage":   "success",
			"responseBody": map[string]any{
				"paymentStatus":        "PAID",
				"amountPaid":           1000.0,
				"paymentReference":     r.URL.Query().Get("paymentReference"),
				"transactionReference": "MNFY|20250901|000001",
				"paymentMethod":        "ACCOUNT_TRANSFER",
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestInitialize_ReturnsCheckoutURL(t *testing.T) {
	server := fakeMonnify(t)
	app, _ := newPaymentApp(t, server.URL)

	body := []byte(`{"amount":1000,"customerName":"Design Campus","customerEmail":"a@b.com","paymentMethods":["ACCOUNT_TRANSFER"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/initialize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		TransactionReference string `json:"transactionReference"`
		PaymentReference     string `json:"paymentReference"`
		CheckoutURL          string `json:"checkoutUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.HasPrefix(result.CheckoutURL, "https://sandbox.monnify.com/") {
		t.Errorf("Expected provider checkout URL, got %q", result.CheckoutURL)
	}
	if !strings.HasPrefix(result.PaymentReference, "MONNIFY_") {
		t.Errorf("Expected generated payment reference, got %q", result.PaymentReference)
	}
}

func TestInitialize_ValidationError(t *testing.T) {
	app, _ := newPaymentApp(t, "http://unused")

	body := []byte(`{"amount":0,"customerName":"A","customerEmail":"a@b.com","paymentMethods":["CARD"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/payment/initialize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	var errBody struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if errBody.Message == "" {
		t.Error("Expected an error message body")
	}
}

func TestVerify_MissingReference(t *testing.T) {
	app, _ := newPaymentApp(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/api/payment/verify", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestVerify_ReturnsNormalizedStatus(t *testing.T) {
	server := fakeMonnify(t)
	app, _ := newPaymentApp(t, server.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/payment/verify?paymentReference=MONNIFY_ABCDEFGH12", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var status struct {
		PaymentStatus    string  `json:"paymentStatus"`
		PaidAmount       float64 `json:"paidAmount"`
		PaymentReference string  `json:"paymentReference"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.PaymentStatus != "PAID" || status.PaidAmount != 1000 {
		t.Errorf("Unexpected status payload: %+v", status)
	}
}
