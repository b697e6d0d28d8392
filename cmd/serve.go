package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"google.golang.org/grpc"

	"github.com/vibast-solutions/ms-go-settlements/app/controller"
	settlementgrpc "github.com/vibast-solutions/ms-go-settlements/app/grpc"
	"github.com/vibast-solutions/ms-go-settlements/app/middleware"
	"github.com/vibast-solutions/ms-go-settlements/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start the HTTP (Echo) API with webhooks and metrics, and the gRPC health server.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	if cfg.Auth.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET environment variable is required to serve")
	}

	paymentController := controller.NewPaymentController(paymentService)
	jwtAuth := middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.AdminRole, cfg.App.ServiceName)
	healthServer := settlementgrpc.NewHealthServer(cfg.App.ServiceName)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(cfg, paymentController, jwtAuth, echoInternalAuthMiddleware)
	grpcSrv, lis := setupGRPCServer(cfg, healthServer, grpcInternalAuthMiddleware)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()
	healthServer.SetServing(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Waiting for in-flight side effects")
	paymentService.Wait()
	logrus.Info("Server stopped")
}

func setupHTTPServer(
	cfg *config.Config,
	paymentController *controller.PaymentController,
	jwtAuth *middleware.JWTAuth,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestContext())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", paymentController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	webhookLimiter := middleware.WebhookRateLimiter(cfg.RateLimit.WebhookRPS, cfg.RateLimit.WebhookBurst)

	public := e.Group("/payments")
	public.GET("/operators/detect", paymentController.DetectOperator)
	public.POST("/webhooks/mobile-money", paymentController.MobileMoneyWebhook, webhookLimiter)
	public.POST("/webhooks/card-order", paymentController.CardOrderWebhook, webhookLimiter)

	payer := jwtAuth.RequireUser()
	public.POST("/mobile-money", paymentController.InitiateMobileMoney, payer)
	public.POST("/card-order", paymentController.InitiateCardOrder, payer)
	public.POST("/card-order/:id/confirm", paymentController.ConfirmCardOrder, payer)
	public.GET("/:id/status", paymentController.CheckStatus, payer)
	public.POST("/:id/refund", paymentController.RefundPayment, payer, jwtAuth.AdminOnly)

	internal := e.Group("/internal", internalAuthMiddleware.RequireInternalAccess(cfg.App.ServiceName))
	internal.GET("/payments", paymentController.ListPayments)
	internal.GET("/payments/:id", paymentController.GetPayment)

	return e
}

func setupGRPCServer(
	cfg *config.Config,
	healthServer *settlementgrpc.HealthServer,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			settlementgrpc.RecoveryInterceptor(),
			settlementgrpc.RequestIDInterceptor(),
			settlementgrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(cfg.App.ServiceName),
		),
	)
	healthServer.Register(grpcSrv)

	return grpcSrv, lis
}
