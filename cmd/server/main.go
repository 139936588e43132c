package main

import (
	"time"

	"namedepot/internal/config"
	"namedepot/internal/database"
	"namedepot/internal/handlers"
	"namedepot/internal/payment"
	"namedepot/internal/registrar"
	"namedepot/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// 2. Init DB
	if err := database.InitDB(cfg.DatabasePath); err != nil {
		logrus.Fatalf("Failed to init DB: %v", err)
	}

	orders := database.NewOrderRepository(database.DB)
	pending := database.NewPendingDomainRepository(database.DB)
	settings := database.NewSettingRepository(database.DB)
	users := database.NewUserRepository(database.DB)

	// 3. External collaborators
	registrarClient := registrar.NewHTTPClient(
		cfg.RegistrarBaseURL, cfg.RegistrarAuthUserID, cfg.RegistrarAPIKey,
		cfg.ExternalCallTimeout(),
	)
	paymentGateway := payment.NewHTTPGateway(
		cfg.PaymentGatewayURL, cfg.PaymentAPIKey,
		cfg.ExternalCallTimeout(),
	)

	// 4. Core services
	provisioner := services.NewProvisioner(
		orders, pending, users, registrarClient,
		cfg.ExternalCallTimeout(), cfg.NameserverList(),
	)
	reconciler := services.NewReconciler(
		pending, orders, provisioner, registrarClient,
		cfg.ExternalCallTimeout(), cfg.ProcessingLeaseGrace(),
	)
	checkout := services.NewCheckoutService(
		orders, paymentGateway, provisioner,
		cfg.ExternalCallTimeout(),
	)
	pricing := services.NewPricingCache(
		settings, registrarClient,
		time.Duration(cfg.PricingCacheTTLMinutes)*time.Minute, nil,
	)

	// 5. API Server
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api := e.Group("/api")
	handlers.RegisterRoutes(api, cfg, orders, users, checkout, reconciler, pricing, registrarClient)

	logrus.Infof("%s starting on %s...", cfg.ServerName, cfg.ListenAddr)
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
