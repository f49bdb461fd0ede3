package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/internal/handler"
	"github.com/xenking/discount-engine/pkg/health"
	"github.com/xenking/discount-engine/pkg/httpmiddleware"
)

// Telemetry provides OpenTelemetry providers; *app.Telemetry from the
// go-faster sdk satisfies it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// App is the wired discount API.
type App struct {
	cfg     *Config
	store   *store
	health  *health.Health
	handler http.Handler
}

// New opens storage and builds the service, health checks and HTTP stack.
// Close releases what New opened.
func New(ctx context.Context, lg *zap.Logger, tel Telemetry, cfg *Config) (*App, error) {
	ctx = zctx.Base(ctx, lg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := discount.NewService(st.repo,
		discount.WithCategoryResolver(st.rules),
		discount.WithLocation(loc),
		discount.WithTracerProvider(tel.TracerProvider()),
		discount.WithMeterProvider(tel.MeterProvider()),
	)
	if err != nil {
		st.Close()
		return nil, errors.Wrap(err, "create discount service")
	}

	healthSvc := health.New()
	for name, p := range st.ready {
		healthSvc.AddReadinessCheck(name, 5*time.Second, health.PingCheck(p))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(cfg.MaxGoroutines))

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(svc).Mount(r)

	api := otelhttp.NewHandler(r, "discount-api",
		otelhttp.WithTracerProvider(tel.TracerProvider()),
		otelhttp.WithMeterProvider(tel.MeterProvider()),
	)

	return &App{
		cfg:    cfg,
		store:  st,
		health: healthSvc,
		handler: httpmiddleware.Wrap(api,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				Headers:          []string{"Content-Type", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			middleware.RealIP,
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
		),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Health returns the probe registry.
func (a *App) Health() *health.Health { return a.health }

// Rules returns the underlying rule store, bypassing the usage gate. It is
// used for seeding.
func (a *App) Rules() RuleStore { return a.store.rules }

// Close releases storage connections.
func (a *App) Close() { a.store.Close() }

// Serve accepts connections on ln until ctx is cancelled, then drains and
// shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	lg := zctx.From(ctx)
	cfg := a.cfg

	a.health.Start(ctx, 10*time.Second)
	a.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Handler:           a.handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		a.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		a.health.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", ln.Addr().String()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, tel Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	a, err := New(ctx, lg, tel, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return a.Serve(zctx.Base(ctx, lg), ln)
}
