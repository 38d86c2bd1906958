package handler

import (
	"checkout-core/internal/adapter/http/middleware"
	redisStore "checkout-core/internal/adapter/storage/redis"
	"checkout-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	CartSvc        ports.CartService
	TxnSvc         ports.TransactionService
	Registry       ports.GatewayRegistry
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Cart routes (user JWT or guest session token) ---
	actorAuth := middleware.ActorAuth(deps.TokenSvc, deps.Logger)
	cartHandler := NewCartHandler(deps.CartSvc)
	carts := v1.Group("/carts", actorAuth)
	{
		carts.POST("/current", rl("carts"), cartHandler.GetCurrent)
		carts.POST("/merge", rl("carts"), middleware.RequireUser(), cartHandler.Merge)
		carts.GET("/:id", rl("carts"), cartHandler.Get)
		carts.POST("/:id/items", rl("carts"), cartHandler.AddItem)
		carts.PATCH("/:id/items/:item_id", rl("carts"), cartHandler.UpdateItem)
		carts.DELETE("/:id/items/:item_id", rl("carts"), cartHandler.RemoveItem)
		carts.POST("/:id/clear", rl("carts"), cartHandler.Clear)
	}

	// --- Transaction routes (JWT required) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	txnHandler := NewTransactionHandler(deps.TxnSvc)
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("", rl("transactions"), txnHandler.Create)
		transactions.GET("", rl("transactions"), txnHandler.List)
		transactions.GET("/stats", rl("transactions"), txnHandler.Stats)
		transactions.GET("/:id", rl("transactions"), txnHandler.Get)
		transactions.POST("/:id/process", rl("transactions"), txnHandler.Process)
		transactions.POST("/:id/verify", rl("transactions"), txnHandler.Verify)
		transactions.POST("/:id/refund", rl("transactions_refund"), txnHandler.Refund)
	}

	// --- Webhook routes (signature-authenticated inside the service) ---
	webhookHandler := NewWebhookHandler(deps.TxnSvc)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/:provider", rl("webhooks"), webhookHandler.Handle)
	}

	// --- Provider registry (public) ---
	providerHandler := NewProviderHandler(deps.Registry)
	providers := v1.Group("/providers")
	{
		providers.GET("", rl("providers"), providerHandler.List)
		providers.GET("/:key/fees", rl("providers"), providerHandler.EstimateFee)
	}

	return r
}
