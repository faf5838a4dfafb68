package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/grouple/internal/config"
	"github.com/example/grouple/internal/handlers"
	"github.com/example/grouple/internal/middleware"
	"github.com/example/grouple/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	monnifyService := services.NewMonnifyService(cfg.MonnifyAPIKey, cfg.MonnifySecretKey, cfg.MonnifyContractCode, cfg.MonnifyBaseURL)
	groupService := services.NewGroupService(db)
	intentStore := services.NewGormIntentStore(db)
	checkoutService := services.NewCheckoutService(monnifyService, groupService, intentStore, cfg.GroupFee, cfg.PaymentRedirectURL)

	authHandler := handlers.NewAuthHandler(db, cfg)
	paymentHandler := handlers.NewPaymentHandler(monnifyService, checkoutService, cfg.MonnifySecretKey, cfg.PaymentRedirectURL)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	groupHandler := handlers.NewGroupHandler(groupService)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Payment routes. The webhook must stay unauthenticated: the provider
	// authenticates itself with the HMAC signature over the raw body.
	payment := api.Group("/payment")
	payment.Post("/initialize", paymentHandler.Initialize)
	payment.Get("/verify", paymentHandler.Verify)
	payment.Post("/webhook", paymentHandler.Webhook)

	// Group creation (form-driven, userId in body)
	api.Post("/group/create", groupHandler.CreateGroup)
	api.Get("/groups/:id", groupHandler.GetGroup)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	protected.Post("/checkout", checkoutHandler.Begin)
	protected.Get("/checkout/status", checkoutHandler.Status)
	protected.Get("/groups", groupHandler.ListGroups)
}
