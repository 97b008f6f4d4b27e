package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/shop-orderflow/internal/aws"
	"github.com/imrishuroy/shop-orderflow/internal/catalog"
	"github.com/imrishuroy/shop-orderflow/internal/config"
	"github.com/imrishuroy/shop-orderflow/internal/handlers"
	"github.com/imrishuroy/shop-orderflow/internal/idempotency"
	"github.com/imrishuroy/shop-orderflow/internal/logging"
	"github.com/imrishuroy/shop-orderflow/internal/middleware"
	"github.com/imrishuroy/shop-orderflow/internal/orders"
	"github.com/imrishuroy/shop-orderflow/internal/payments"
	"github.com/imrishuroy/shop-orderflow/internal/users"
)

func setupRouter(cfg *config.Config, deps handlers.Dependencies) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	handlers.RegisterRoutes(r, deps)

	return r
}

func buildDependencies(cfg *config.Config, clients *aws.Clients, logger *zap.SugaredLogger) handlers.Dependencies {
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, orders.WithTimeout(cfg.StoreTimeout))

	lifecycleOpts := []orders.LifecycleOption{orders.WithLogger(logger)}
	if cfg.QueueURL != "" {
		lifecycleOpts = append(lifecycleOpts, orders.WithPublisher(clients.Publisher(cfg.QueueURL)))
	} else {
		logger.Infow("ORDERS_QUEUE_URL not set, lifecycle events are not published")
	}

	return handlers.Dependencies{
		Orders:      orderStore,
		Lifecycle:   orders.NewLifecycle(orderStore, lifecycleOpts...),
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		Products:    catalog.NewStore(clients.DynamoDB, cfg.Tables.Products, cfg.StoreTimeout),
		Users:       users.NewStore(clients.DynamoDB, cfg.Tables.Users, cfg.StoreTimeout),
		Payments:    payments.NewStripeGateway(cfg.Payments.StripeSecretKey, cfg.Payments.Timeout, logger),
		Currency:    cfg.Payments.Currency,
		MetricsPath: cfg.MetricsPath,
		Logger:      logger,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewClients(context.Background(), aws.Options{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		logger.Fatalw("failed to init aws clients", "error", err)
	}

	r := setupRouter(cfg, buildDependencies(cfg, clients, logger))

	if cfg.RunLocal {
		runLocal(cfg, r, logger)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// runLocal serves HTTP until SIGINT or SIGTERM, then drains in-flight requests.
func runLocal(cfg *config.Config, handler http.Handler, logger *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infow("Server is listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("local server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}
