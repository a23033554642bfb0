package app

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/solemart/checkout-api/internal/commerce"
	"github.com/solemart/checkout-api/internal/domain/otp"
	"github.com/solemart/checkout-api/internal/domain/payment"
	"github.com/solemart/checkout-api/internal/gateway"
	"github.com/solemart/checkout-api/internal/handler"
	"github.com/solemart/checkout-api/internal/mailer"
	"github.com/solemart/checkout-api/internal/rates"
	"github.com/solemart/checkout-api/internal/storage/memory"
	"github.com/solemart/checkout-api/internal/storage/postgres"
	"github.com/solemart/checkout-api/pkg/health"
	"github.com/solemart/checkout-api/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// Shared outbound HTTP client; all external calls go through the proxy
	// when one is configured, and none may hang past its timeout.
	outbound, err := newOutboundClient(cfg.ProxyURL, cfg.Gateway.Timeout)
	if err != nil {
		return errors.Wrap(err, "create outbound client")
	}

	// External collaborators.
	backend := commerce.NewClient(cfg.Commerce.URL, cfg.Commerce.Token, outbound)
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, outbound)
	mailClient := mailer.NewClient(cfg.Mail.BaseURL, cfg.Mail.APIKey, cfg.Mail.Sender, outbound)

	// Rate source with static fallback: lookups never fail the caller.
	var liveRates rates.Source
	if cfg.Rates.URL != "" {
		rateClient, err := newOutboundClient(cfg.ProxyURL, cfg.Rates.Timeout)
		if err != nil {
			return errors.Wrap(err, "create rates client")
		}
		liveRates = rates.NewMarketClient(cfg.Rates.URL, cfg.Rates.PriceKey, rateClient)
	}
	fallbackRate := decimal.Zero
	if cfg.Rates.Fallback != "" {
		fallbackRate = decimal.RequireFromString(cfg.Rates.Fallback)
	}
	rateSource := rates.WithFallback(liveRates, fallbackRate, lg.Named("rates"))

	// OTP and claim storage: PostgreSQL when configured, in-process otherwise.
	var (
		otpStore   otp.Store
		claimStore payment.ClaimStore
		dbCheck    health.CheckFunc
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		pgOTP := postgres.NewOTPStore(pool)
		startOTPJanitor(ctx, pgOTP, cfg.OTP.TTL, lg)
		otpStore = pgOTP
		claimStore = postgres.NewClaimStore(pool)
		dbCheck = health.PingCheck(pool)
	} else {
		lg.Info("No database configured, using in-process OTP store (single instance only)")
		memStore := memory.NewOTPStore()
		memStore.StartJanitor(ctx, cfg.OTP.TTL)
		otpStore = memStore
	}

	// Domain services.
	verifier := payment.NewSignatureVerifier(cfg.Gateway.IPNSecret, cfg.Gateway.SignatureEnforce, lg.Named("signature"))
	intentSvc := payment.NewIntentService(backend, rateSource, gatewayClient, payment.IntentConfig{
		ReferenceCurrency: cfg.Gateway.ReferenceCurrency,
		MinAmount:         decimal.RequireFromString(cfg.Gateway.MinAmount),
		IPNCallbackURL:    cfg.Callback.IPNURL,
		SuccessURL:        cfg.Callback.SuccessURL,
		CancelURL:         cfg.Callback.CancelURL,
	}, lg.Named("intent"))

	ackedErr, err := m.MeterProvider().Meter("checkout-api").Int64Counter(
		"webhook.acked_internal_errors",
		metric.WithDescription("Completion failures swallowed by the webhook's 200-ack policy"),
	)
	if err != nil {
		return errors.Wrap(err, "create counter")
	}
	webhookSvc := payment.NewWebhookService(verifier, backend, claimStore, ackedErr, lg.Named("webhook"))

	otpSvc := otp.NewService(otpStore, mailClient, backend, otp.Config{
		TTL:      cfg.OTP.TTL,
		Cooldown: cfg.OTP.Cooldown,
	}, lg.Named("otp"))

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("commerce-backend", 5*time.Second, backend.Ping)
	if dbCheck != nil {
		healthSvc.AddReadinessCheck("database", 2*time.Second, dbCheck)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP surface.
	h := handler.New(intentSvc, webhookSvc, otpSvc)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	instrumented := otelhttp.NewHandler(mux, "checkout-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
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

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newOutboundClient builds an HTTP client with a hard timeout and an optional
// proxy for restricted network environments.
func newOutboundClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse proxy URL")
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// startOTPJanitor periodically clears expired OTP rows so abandoned requests
// do not accumulate in the database.
func startOTPJanitor(ctx context.Context, store *postgres.OTPStore, ttl time.Duration, lg *zap.Logger) {
	go func() {
		ticker := time.NewTicker(2 * ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.Sweep(ctx); err != nil {
					lg.Error("OTP sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
