package cmd

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/ledger"
	"github.com/vibast-solutions/ms-go-settlements/app/notifier"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
	"github.com/vibast-solutions/ms-go-settlements/app/repository"
	"github.com/vibast-solutions/ms-go-settlements/app/service"
	"github.com/vibast-solutions/ms-go-settlements/config"
)

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustCreatePaymentService() (*config.Config, *service.PaymentService, func()) {
	cfg := mustLoadConfig()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	callbackRepo := repository.NewPaymentCallbackRepository(db)
	licenseRepo := repository.NewLicenseRepository(db)

	mobileMoneyProvider := provider.NewMobileMoneyProvider(provider.MobileMoneyConfig{
		BaseURL:         cfg.MobileMoney.BaseURL,
		Username:        cfg.MobileMoney.Username,
		Password:        cfg.MobileMoney.Password,
		WebhookSecret:   cfg.MobileMoney.WebhookSecret,
		SignatureHeader: cfg.MobileMoney.SignatureHeader,
		HTTPTimeout:     cfg.MobileMoney.HTTPTimeout,
	})
	payPalProvider := provider.NewPayPalProvider(provider.PayPalConfig{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		BrandName:    cfg.PayPal.BrandName,
		HTTPTimeout:  cfg.PayPal.HTTPTimeout,
	})
	providerRegistry := provider.NewRegistry(mobileMoneyProvider, payPalProvider)

	converter, err := currency.NewConverter(cfg.Currency.Home, cfg.Currency.Settlement, cfg.Currency.Rate)
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to configure currency conversion")
	}

	confirmations := notifier.NewHTTPNotifier(cfg.Notifications.BaseURL, cfg.Notifications.APIKey, cfg.Notifications.HTTPTimeout)
	if !confirmations.Enabled() {
		logrus.Warn("NOTIFICATIONS_BASE_URL is empty, payment confirmations will not be sent")
	}

	paymentService := service.NewPaymentService(
		ledger.New(paymentRepo, eventRepo),
		paymentRepo,
		eventRepo,
		callbackRepo,
		licenseRepo,
		confirmations,
		providerRegistry,
		converter,
		cfg.Payments,
	)

	cleanup := func() {
		paymentService.Wait()
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, paymentService, cleanup
}
