package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"licsrv/internal/config"
	apierrors "licsrv/internal/errors"
	"licsrv/internal/housekeeping"
	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
	"licsrv/internal/middleware"
	"licsrv/internal/security"
	"licsrv/internal/services"
	"licsrv/internal/store"
	"licsrv/internal/telemetry"
	handlers "licsrv/internal/transport/http"
)

// Application represents the main application container
type Application struct {
	Config      *config.Config
	Logger      *slog.Logger
	OTel        *infrastructure.OTelProviders
	Store       *store.Resilient
	Dispatcher  *telemetry.Dispatcher
	Manager     *license.Manager
	Housekeeper *housekeeping.Housekeeper
	Handler     http.Handler
	Server      *http.Server

	build     services.BuildInfo
	logCloser io.Closer
	closers   []func(context.Context) error
}

// New builds the application from cfg. On error everything opened so far is
// released.
func New(ctx context.Context, cfg *config.Config, build services.BuildInfo) (*Application, error) {
	logger, logCloser, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewWithLogger(ctx, cfg, build, logger, logCloser)
}

// NewWithLogger is New with a caller-supplied logger. logCloser may be nil.
func NewWithLogger(ctx context.Context, cfg *config.Config, build services.BuildInfo, logger *slog.Logger, logCloser io.Closer) (_ *Application, err error) {
	a := &Application{
		Config:    cfg,
		Logger:    logger,
		build:     build,
		logCloser: logCloser,
	}
	defer func() {
		if err == nil {
			return
		}
		if a.Dispatcher != nil {
			_ = a.Dispatcher.Sink().Close(context.WithoutCancel(ctx))
		}
		_ = a.Close(context.WithoutCancel(ctx))
	}()

	if err := a.initObservability(); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		return nil, err
	}

	a.Logger.InfoContext(ctx, "application initialized",
		slog.String("version", build.Version),
		slog.String("store", cfg.Store.Driver),
		slog.String("telemetry_sink", a.Dispatcher.Sink().Name()),
	)
	return a, nil
}

func (a *Application) initObservability() error {
	otelProviders, err := infrastructure.InitializeOTel(a.Config.Observability, a.build.Version, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTel = otelProviders
	a.closers = append(a.closers, otelProviders.Shutdown)
	return nil
}

func (a *Application) initStore(ctx context.Context) error {
	st, err := store.Open(ctx, a.Config.Store, infrastructure.WithComponent(a.Logger, "store"))
	if err != nil {
		return err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	return nil
}

func (a *Application) initTelemetry(ctx context.Context) error {
	var shared *mongo.Database
	if m, ok := a.Store.Unwrap().(*store.Mongo); ok {
		shared = m.Database()
	}
	sink, err := telemetry.OpenSink(ctx, a.Config.Telemetry, shared, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open telemetry sink: %w", err)
	}

	d, err := telemetry.NewDispatcher(sink, telemetry.DispatcherOptions{
		BufferSize:   a.Config.Telemetry.BufferSize,
		WriteTimeout: a.Config.Telemetry.WriteTimeout,
	}, a.Logger, a.OTel.Meter)
	if err != nil {
		_ = sink.Close(ctx)
		return err
	}
	a.Dispatcher = d
	return nil
}

func (a *Application) initServices() error {
	metrics, err := license.NewMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}
	a.Manager = license.NewManager(a.Store,
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics),
		license.WithPublisher(a.Dispatcher),
		license.WithMaxKeyAttempts(a.Config.License.MaxKeyAttempts),
	)

	auth, err := security.NewSecretAuthorizer(a.Config.Admin)
	if err != nil {
		return fmt.Errorf("failed to configure admin authorization: %w", err)
	}

	tasks := append([]housekeeping.Task{housekeeping.StoreTask(a.Store)}, housekeeping.SinkTasks(a.Dispatcher.Sink())...)
	a.Housekeeper, err = housekeeping.New(a.Config.Housekeeping, tasks, a.Logger, a.OTel.Meter)
	if err != nil {
		return err
	}

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTel.Tracer, a.OTel.Meter)
	if err != nil {
		return err
	}

	var limiter *middleware.RateLimiter
	if rl := a.Config.Security.RateLimit; rl.Enabled {
		limiter = middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger)
	}

	a.Handler = handlers.NewRouter(handlers.RouterConfig{
		Licenses:       services.NewLicenseService(a.Manager, a.Logger),
		Export:         services.NewExportService(a.Manager, a.Logger),
		Telemetry:      services.NewTelemetryService(a.Dispatcher, a.Logger),
		Health:         services.NewHealthService(a.build, a.Store, a.Dispatcher, a.Dispatcher.Sink().Name(), a.Logger),
		Authorizer:     auth,
		Errors:         apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Level == "debug"),
		OTel:           otelMiddleware,
		RateLimiter:    limiter,
		Metrics:        a.OTel.MetricsHandler,
		RequestTimeout: a.Config.Server.RequestTimeout,
		MaxBodyBytes:   a.Config.Security.MaxBodyBytes,
		Logger:         a.Logger,
	})

	a.Server = &http.Server{
		Addr:              a.Config.Server.Addr(),
		Handler:           a.Handler,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		WriteTimeout:      a.Config.Server.WriteTimeout,
		IdleTimeout:       a.Config.Server.IdleTimeout,
		MaxHeaderBytes:    a.Config.Server.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
	return nil
}

// Run listens on the configured address and serves until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the server on ln together with the telemetry dispatcher and the
// housekeeper. It returns nil after a clean shutdown.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives the server so late events are still flushed.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g.Go(func() error {
		return a.Dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		return a.Housekeeper.Run(gctx)
	})
	g.Go(func() error {
		a.Logger.InfoContext(ctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopDispatch()

		a.Logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Logger.Info("application stopped", slog.Any("telemetry", a.Dispatcher.Stats()))
	return err
}

// Close releases the store, the observability providers and the log file,
// in reverse order of creation.
func (a *Application) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logCloser = nil
	}
	return errors.Join(errs...)
}
