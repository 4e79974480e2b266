package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solecraft/checkout-service/internal/auth"
	"github.com/solecraft/checkout-service/internal/domain/order"
	"github.com/solecraft/checkout-service/internal/domain/outbox"
	"github.com/solecraft/checkout-service/internal/domain/payment"
	"github.com/solecraft/checkout-service/internal/gateway/stripe"
	"github.com/solecraft/checkout-service/internal/handler"
	"github.com/solecraft/checkout-service/internal/storage/postgres"
	"github.com/solecraft/checkout-service/pkg/health"
	"github.com/solecraft/checkout-service/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis session cache shared with the auth service.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	sessionCache := redis.NewClient(redisOpts)
	defer sessionCache.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, health.RedisCheck(sessionCache))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	variantRepo := postgres.NewVariantRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)

	// Payment gateway client.
	gateway := stripe.NewClient(stripe.Config{
		APIKey:     cfg.Stripe.APIKey,
		BaseURL:    cfg.Stripe.BaseURL,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	})

	// Domain services. The payment service relays webhook confirmations back
	// to the order service, so the notifier is bound after both exist.
	notifier := &orderNotifier{}
	paymentSvc := payment.NewService(paymentRepo, gateway, notifier)
	orderSvc := order.NewService(orderRepo, cartRepo, &paymentClient{svc: paymentSvc}, cfg.Currency)
	notifier.orders = orderSvc

	// Outbox dispatcher for deferred side effects.
	dispatcher := outbox.NewDispatcher(outbox.DispatcherConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseBackoff: cfg.Outbox.BaseBackoff,
	}, outboxRepo)
	registerTaskHandlers(dispatcher, cartRepo, variantRepo)

	// HTTP routes.
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), sessionCache)
	h := handler.New(orderSvc, paymentSvc, verifier, []byte(cfg.Stripe.WebhookSecret))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	h.Register(router)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "checkout-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	<-shutdownDone
	return nil
}
