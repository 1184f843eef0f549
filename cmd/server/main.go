package main

import (
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"can_analyzer_shop/internal/handlers"
	appMiddleware "can_analyzer_shop/internal/middleware"
	"can_analyzer_shop/internal/services"
	"can_analyzer_shop/internal/tasks"
)

// TemplateRenderer is a custom html/template renderer for Echo
type TemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTemplateRenderer parses every standalone page template under
// web/templates
func NewTemplateRenderer() *TemplateRenderer {
	templates := make(map[string]*template.Template)

	pages, err := filepath.Glob("web/templates/*.html")
	if err != nil {
		log.Fatal(err)
	}
	for _, page := range pages {
		templates[filepath.Base(page)] = template.Must(template.ParseFiles(page))
	}

	return &TemplateRenderer{templates: templates}
}

// Render renders a template document
func (t *TemplateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := t.templates[name]
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "Template not found: "+name)
	}
	return tmpl.Execute(w, data)
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize Redis (optional; dedup and rate limits degrade without it)
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
			cache = nil
		}
	} else {
		log.Println("Warning: REDIS_URL not set, webhook dedup fast path disabled")
	}

	// External clients
	paypalClient := services.NewPayPalService()
	licenseClient := services.NewLicenseService()
	mailer := services.NewEmailService()

	// Async task runner
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, db, licenseClient, mailer)
	dispatcher := tasks.NewDispatcher(registry)

	// Core services
	authService := services.NewAuthService(db)
	orderService := services.NewOrderService(db, cache, paypalClient, dispatcher)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Template renderer
	e.Renderer = NewTemplateRenderer()

	// Static file serving
	e.Static("/static", "web/static")

	// Initialize handlers
	pageHandler := handlers.NewPageHandler()
	authHandler := handlers.NewAuthHandler(authService)
	paymentHandler := handlers.NewPaymentHandler(orderService)
	licenseHandler := handlers.NewLicenseHandler(orderService)
	feedbackHandler := handlers.NewFeedbackHandler(db)

	requireAuth := appMiddleware.RequireAuth(authService)

	// Pages
	e.GET("/", pageHandler.Home)
	e.GET("/paypal/approve", paymentHandler.Approve)

	// Auth
	authLimit := appMiddleware.RateLimit(cache, 10, time.Minute)
	e.POST("/api/auth/register", authHandler.Register, authLimit)
	e.POST("/api/auth/login", authHandler.Login, authLimit)
	e.GET("/api/auth/me", authHandler.Me, requireAuth)

	// Checkout and reconciliation
	e.POST("/api/pay", paymentHandler.Pay, requireAuth)
	e.GET("/api/paypal/cancel-order", paymentHandler.Cancel)
	e.POST("/api/paypal/webhook", paymentHandler.Webhook)
	e.GET("/api/paypal/orders", paymentHandler.ListOrders, requireAuth)
	e.GET("/api/paypal/orders/:orderId", paymentHandler.GetOrder, requireAuth)
	e.GET("/api/paypal/orders/:orderId/status", paymentHandler.OrderStatus)

	// License backend callback
	e.POST("/api/license/notify", licenseHandler.Notify)

	// Feedback board
	e.GET("/api/feedback", feedbackHandler.List)
	e.POST("/api/feedback", feedbackHandler.Create, requireAuth)
	e.PUT("/api/feedback/:id", feedbackHandler.Update, requireAuth)
	e.DELETE("/api/feedback/:id", feedbackHandler.Delete, requireAuth)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
