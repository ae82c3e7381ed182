package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/handler"
	"github.com/xenking/kart-storefront/internal/payment/stripe"
	"github.com/xenking/kart-storefront/internal/session"
	"github.com/xenking/kart-storefront/internal/storage/jsonfile"
	"github.com/xenking/kart-storefront/internal/storage/postgres"
	"github.com/xenking/kart-storefront/pkg/health"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog", cfg.Catalog.Source),
		zap.String("sessions", cfg.Session.Backend),
	)

	catalog, err := loadCatalog(ctx, cfg.Catalog)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}
	lg.Info("Catalog loaded", zap.Int("products", catalog.Len()))

	prober := health.New()
	prober.Register(health.Liveness, "goroutines", health.GoroutineLimit(10000), health.Options{})

	// Sessions.
	signer, err := session.NewSigner(cfg.Session.Secret)
	if err != nil {
		return errors.Wrap(err, "session signer")
	}
	cookieCfg := session.CookieConfig{
		Name:   cfg.Session.Cookie,
		MaxAge: cfg.Session.MaxAge,
		Secure: cfg.Session.Secure,
	}
	var store session.Store
	switch cfg.Session.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Session.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		redisStore := session.NewRedisStore(client, signer, catalog, cookieCfg, cfg.Session.Redis.TTL)
		if err := redisStore.Ping(ctx); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		prober.Register(health.Readiness, "redis", health.Ping(redisStore), health.Options{Timeout: 2 * time.Second})
		store = redisStore
	default:
		store = session.NewCookieStore(signer, catalog, cookieCfg)
	}

	// Payments.
	gateway := stripe.New(stripe.Config{
		APIKey:      cfg.Stripe.Key,
		BackendURL:  cfg.Stripe.BackendURL,
		Timeout:     cfg.Stripe.Timeout,
		MaxFailures: cfg.Stripe.MaxFailures,
		OpenTimeout: cfg.Stripe.OpenTimeout,
	}, stripe.NewHTTPClient(cfg.Stripe.Timeout, m.TracerProvider(), m.MeterProvider()), lg.Named("stripe"))
	prober.Register(health.Readiness, "stripe", gateway.Check, health.Options{FailAfter: 1})

	checkoutSvc := checkout.NewService(checkout.NewBuilder(catalog, checkout.Config{
		Currency: cfg.Stripe.Currency,
		Shipping: checkout.ShippingOption{
			DisplayName:     cfg.Stripe.Shipping.Name,
			Amount:          cfg.Stripe.Shipping.Amount,
			MinBusinessDays: cfg.Stripe.Shipping.MinDays,
			MaxBusinessDays: cfg.Stripe.Shipping.MaxDays,
		},
		AllowedCountries: cfg.Stripe.AllowedCountries,
	}), gateway)

	// HTTP.
	var limiter *httpmiddleware.Limiter
	if cfg.RateLimit.Max > 0 {
		limiter = httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		})
	}
	h, err := handler.New(handler.Config{
		BaseURL:         cfg.BaseURL,
		TrustedOrigins:  cfg.TrustedOrigins,
		CheckoutLimiter: limiter,
		StaticDir:       cfg.StaticDir,
	}, catalog, session.NewManager(store), checkoutSvc, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", prober.Livez)
	mux.HandleFunc("/readyz", prober.Readyz)
	mux.Handle("/", h.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout waits for Stripe.
		WriteTimeout:   cfg.Stripe.Timeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return prober.Run(gCtx, 10*time.Second)
	})
	if limiter != nil {
		g.Go(func() error {
			limiter.RunEviction(gCtx)
			return nil
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: stop advertising readiness, drain, then stop.
		<-gCtx.Done()
		prober.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	prober.SetReady(true)
	return g.Wait()
}

// loadCatalog reads the catalog from the configured source. The PostgreSQL
// pool is only needed at startup and is closed afterwards.
func loadCatalog(ctx context.Context, cfg CatalogConfig) (*product.Catalog, error) {
	switch cfg.Source {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		return product.Load(ctx, "postgres", postgres.NewProductRepository(pool))
	default:
		return product.Load(ctx, cfg.File, jsonfile.Source{Path: cfg.File})
	}
}
