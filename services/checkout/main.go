package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("configuração inválida", zap.Error(err))
	}

	// Initialize OpenTelemetry
	tp, err := initTracer(cfg)
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := initMetrics(cfg)
	if err != nil {
		logger.Fatal("failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down meter", zap.Error(err))
		}
	}()

	// Initialize database
	dbPool, err := initDB(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	tracer := tp.Tracer(cfg.ServiceName)
	meter := mp.Meter(cfg.ServiceName)

	ordersCreated, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Pedidos pendentes criados no checkout"))
	if err != nil {
		logger.Fatal("failed to create counter", zap.Error(err))
	}
	paymentsConfirmed, err := meter.Int64Counter("payments_confirmed_total",
		metric.WithDescription("Transições pending -> paid aplicadas pela reconciliação"))
	if err != nil {
		logger.Fatal("failed to create counter", zap.Error(err))
	}
	stockFailures, err := meter.Int64Counter("stock_decrement_failures_total",
		metric.WithDescription("Falhas isoladas de decremento de estoque"))
	if err != nil {
		logger.Fatal("failed to create counter", zap.Error(err))
	}

	// Initialize dependencies: clientes construídos uma única vez a partir da
	// configuração validada e injetados explicitamente.
	orderRepository := NewOrderRepository(dbPool)
	inventoryRepository := NewInventoryRepository(dbPool)
	mercadoPagoClient := NewMercadoPagoClient(
		cfg.MPAccessToken,
		cfg.MPBaseURL,
		cfg.SiteURL+"/api/webhook/mercadopago",
		logger,
	)
	efiClient := NewEfiClient(cfg, logger)

	checkoutUseCase := NewCheckoutUseCase(orderRepository, mercadoPagoClient, efiClient, logger, ordersCreated)
	reconcileUseCase := NewReconcileUseCase(orderRepository, inventoryRepository, mercadoPagoClient, logger, paymentsConfirmed, stockFailures)
	statusUseCase := NewStatusUseCase(orderRepository, logger)

	checkoutHandler := NewCheckoutHandler(checkoutUseCase, tracer, logger)
	webhookHandler := NewWebhookHandler(reconcileUseCase, tracer, logger)
	statusHandler := NewStatusHandler(statusUseCase, tracer)

	// Setup Gin router
	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// Health check
	r.GET("/health", statusHandler.HealthCheck)

	// Charge creation endpoints
	r.POST("/api/checkout", checkoutHandler.MercadoPagoPix)
	r.POST("/api/checkout/preference", checkoutHandler.Preference)
	r.POST("/api/checkout/pix", checkoutHandler.EfiPix)

	// Provider webhook endpoints
	r.POST("/api/webhook/mercadopago", webhookHandler.MercadoPago)
	r.GET("/api/webhook/mercadopago", webhookHandler.Verify)
	r.POST("/api/webhook/efi", webhookHandler.Efi)
	r.GET("/api/webhook/efi", webhookHandler.Verify)

	// Client polling endpoint
	r.GET("/api/order-status", statusHandler.OrderStatus)

	logger.Info("checkout service listening", zap.String("port", cfg.Port))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

func initDB(cfg *Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=25&pool_min_conns=5",
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseName,
	)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to database with connection pool")
			return pool, nil
		}
		logger.Info("waiting for database", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initTracer(cfg *Config) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg *Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return mp, nil
}
