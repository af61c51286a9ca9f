package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/sufragio-api/api/swagger"
	"github.com/noah-isme/sufragio-api/internal/handler"
	"github.com/noah-isme/sufragio-api/internal/middleware"
	"github.com/noah-isme/sufragio-api/internal/repository"
	"github.com/noah-isme/sufragio-api/internal/service"
	"github.com/noah-isme/sufragio-api/pkg/cache"
	"github.com/noah-isme/sufragio-api/pkg/config"
	"github.com/noah-isme/sufragio-api/pkg/database"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
	"github.com/noah-isme/sufragio-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sufragio-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sufragio-api/pkg/middleware/requestid"
)

const shutdownTimeout = 10 * time.Second

// App owns the process-wide resources of the API server.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sqlx.DB
	redis      *redis.Client
	metrics    *service.MetricsService
	projection *service.ProjectionService
	router     *gin.Engine
}

// New connects the configured backends and builds the HTTP router.
func New(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logr, metrics: service.NewMetricsService()}
	repo := repository.NewSufragioRepository(cfg.Ledger.Table)
	checks := map[string]handler.ReadinessCheck{}

	if cfg.Projection.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
		store := repository.NewProjectionRepository(client, cfg.Projection.KeyPrefix, cfg.Projection.KeepHistory, logr)
		a.projection = service.NewProjectionService(store, service.ProjectionOptions{
			Table:       repo.Table(),
			Ordered:     cfg.Projection.Ordered,
			KeepHistory: cfg.Projection.KeepHistory,
			Workers:     cfg.Projection.Workers,
			Retries:     cfg.Projection.Retries,
			RetryDelay:  cfg.Projection.RetryDelay,
		}, a.metrics, logr)
		a.metrics.TrackProjectionBacklog(a.projection.Pending)
		checks["redis"] = store.Ping
	}

	opts := []ledger.Option{
		ledger.WithTxTimeout(cfg.Ledger.TxTimeout),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithRetryBaseDelay(cfg.Ledger.RetryBaseDelay),
		ledger.WithLogger(logr),
		ledger.WithObserver(a.metrics),
	}
	if a.projection != nil {
		opts = append(opts, ledger.WithCommitHook(a.projection.Publish))
	}

	var driver ledger.Driver
	switch cfg.Ledger.Driver {
	case config.LedgerDriverMemory:
		logr.Warn("using in-memory ledger, data is lost on restart")
		driver = ledger.NewMemoryDriver(opts...)
	case config.LedgerDriverPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		if cfg.Ledger.AutoProvision {
			if err := ledger.Provision(ctx, db, repo.Indexes()...); err != nil {
				a.Close()
				return nil, fmt.Errorf("provision ledger: %w", err)
			}
		}
		driver = ledger.NewPostgresDriver(db, opts...)
		checks["postgres"] = db.PingContext
	default:
		a.Close()
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}

	a.router = NewRouter(RouterConfig{
		Env:            cfg.Env,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logr,
		Metrics:        a.metrics,
		Checks:         checks,
		Sufragios: service.NewSufragioService(driver, repo, validator.New(), a.metrics, service.SufragioOptions{
			StrictTransitions: cfg.Ledger.StrictTransitions,
		}, logr),
		History:    service.NewHistoryService(driver, repo, a.metrics, cfg.Exports.PDFTitle, logr),
		Projection: a.projection,
	})
	return a, nil
}

// RouterConfig carries the collaborators mounted on the router.
type RouterConfig struct {
	Env            string
	APIPrefix      string
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	Checks         map[string]handler.ReadinessCheck
	Sufragios      *service.SufragioService
	History        *service.HistoryService
	Projection     *service.ProjectionService
}

// NewRouter builds the gin engine serving the API.
func NewRouter(rc RouterConfig) *gin.Engine {
	if rc.Logger == nil {
		rc.Logger = zap.NewNop()
	}
	if rc.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(rc.Logger))
	r.Use(middleware.Metrics(rc.Metrics))
	r.Use(corsmiddleware.New(rc.AllowedOrigins))

	handler.RegisterOpsRoutes(r, handler.NewMetricsHandler(rc.Metrics, rc.Checks))
	if rc.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	history := handler.NewHistoryHandler(rc.History, nil)
	if rc.Projection != nil {
		history = handler.NewHistoryHandler(rc.History, rc.Projection)
	}
	api := r.Group(rc.APIPrefix, middleware.Operator(rc.Logger))
	handler.RegisterSufragioRoutes(api.Group("/sufragios"), handler.NewSufragioHandler(rc.Sufragios), history)
	return r
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.router
}

// Run serves HTTP and runs the projection workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.projection != nil {
		g.Go(func() error {
			return a.projection.Run(gctx)
		})
	}
	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", a.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the backend connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", zap.Error(err))
		}
	}
}
