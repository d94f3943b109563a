// Package runtime builds a runnable scored process from configuration.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/sealed_scores/internal/app"
	"github.com/R3E-Network/sealed_scores/internal/app/circuit"
	"github.com/R3E-Network/sealed_scores/internal/app/cluster"
	"github.com/R3E-Network/sealed_scores/internal/app/cluster/fake"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/httpapi"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/storage/postgres"
	"github.com/R3E-Network/sealed_scores/internal/app/system"
	"github.com/R3E-Network/sealed_scores/internal/config"
	"github.com/R3E-Network/sealed_scores/internal/crypto/attest"
	"github.com/R3E-Network/sealed_scores/internal/middleware"
	"github.com/R3E-Network/sealed_scores/internal/platform/migrations"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     config.Config
	log     *logger.Logger
	app     *app.Application
	handler http.Handler
	server  *http.Server
	audit   *httpapi.AuditLog
	db      *sql.DB
	redis   *redis.Client
}

// NewApplication constructs the process from cfg. It opens the database and
// Redis connections the configuration asks for.
func NewApplication(ctx context.Context, cfg config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	stores, db, err := buildStores(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}
	a := &Application{cfg: cfg, log: log, db: db}

	c, err := buildCluster(cfg, log)
	if err != nil {
		a.closeConnections()
		return nil, fmt.Errorf("configure cluster: %w", err)
	}

	var notifiers []notify.Notifier
	if cfg.Redis.Enabled {
		client, err := notify.NewRedisClient(ctx, notify.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.closeConnections()
			return nil, err
		}
		a.redis = client
		notifiers = append(notifiers, notify.NewRedisPublisher(client, cfg.Redis.Channel, log))
	}

	a.app, err = app.New(stores, app.Options{
		Cluster:         c,
		Notifiers:       notifiers,
		CallbackBase:    cfg.Server.PublicURL,
		EventLogSize:    cfg.Notify.LogSize,
		WebSocket:       cfg.Notify.WebSocket,
		SweepInterval:   cfg.Sweep.Interval,
		SweepStaleAfter: cfg.Sweep.StaleAfter,
	}, log)
	if err != nil {
		a.closeConnections()
		return nil, err
	}

	a.audit, err = httpapi.NewAuditLog(0, cfg.Server.AuditLogPath)
	if err != nil {
		a.closeConnections()
		return nil, err
	}

	opts := httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Audit:          a.audit,
		Log:            log,
	}
	if cfg.Auth.Secret != "" {
		opts.Auth = middleware.NewAuthMiddleware([]byte(cfg.Auth.Secret), log, nil)
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		opts.RateLimiter = limiter
		if err := a.app.Attach(&limiterJanitor{limiter: limiter, interval: time.Minute}); err != nil {
			a.closeConnections()
			return nil, err
		}
	}
	a.handler = httpapi.NewHandler(a.app, opts)

	a.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Core returns the composed application.
func (a *Application) Core() *app.Application {
	return a.app
}

// Run starts the background services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).
			WithField("cluster", a.cfg.Cluster.ID).
			WithField("driver", a.cfg.Database.Driver).
			Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then the background services, then closes
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.audit.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit log")
	}
	a.closeConnections()
	return errors.Join(errs...)
}

func (a *Application) closeConnections() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func buildStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Driver != config.DriverPostgres {
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return app.Stores{}, nil, err
		}
		log.Info("database schema applied")
	}

	store := postgres.New(db)
	return app.Stores{Jobs: store, Results: store}, db, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDatabase opens and pings the configured database. Used by the migrate
// command.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDatabase(ctx, cfg)
}

func buildCluster(cfg config.Config, log *logger.Logger) (cluster.Cluster, error) {
	cc := cfg.Cluster
	switch cc.Mode {
	case config.ClusterFake:
		if cc.Circuit != "" && cc.Circuit != circuit.ProcessScores {
			return nil, fmt.Errorf("fake cluster only runs %s, got %q", circuit.ProcessScores, cc.Circuit)
		}
		c, err := fake.New(fake.Options{
			ClusterID: cc.ID,
			Seed:      []byte(cc.Seed),
			Mode:      fake.Mode(cc.FakeMode),
			Delay:     cc.FakeDelay,
			Log:       log,
		})
		if err != nil {
			return nil, err
		}
		log.WithField("cluster", cc.ID).WithField("mode", cc.FakeMode).Warn("using in-process fake cluster")
		return c, nil
	case config.ClusterHTTP:
		identity, err := parseIdentity(cc)
		if err != nil {
			return nil, err
		}
		return cluster.NewHTTPCluster(cc.Endpoint, cc.APIKey, cc.Timeout, identity, log)
	default:
		return nil, fmt.Errorf("unknown cluster mode %q", cc.Mode)
	}
}

func parseIdentity(cc config.ClusterConfig) (cluster.Identity, error) {
	signingKey, err := attest.ParsePublicKey(cc.SigningKey)
	if err != nil {
		return cluster.Identity{}, fmt.Errorf("cluster.signing_key: %w", err)
	}
	encryptionKey, err := score.ParseBlock(cc.EncryptionKey)
	if err != nil {
		return cluster.Identity{}, fmt.Errorf("cluster.encryption_key: %w", err)
	}
	name := cc.Circuit
	if name == "" {
		name = circuit.ProcessScores
	}
	return cluster.Identity{
		ID:            cc.ID,
		SigningKey:    signingKey,
		EncryptionKey: encryptionKey,
		Circuit:       name,
		CompDefOffset: attest.CompDefOffset(name),
	}, nil
}

// limiterJanitor evicts idle rate limiter buckets.
type limiterJanitor struct {
	limiter  *middleware.RateLimiter
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

var _ system.Service = (*limiterJanitor)(nil)

func (j *limiterJanitor) Name() string { return "rate-limit-janitor" }

func (j *limiterJanitor) Start(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		return nil
	}
	j.stop = make(chan struct{})
	j.limiter.StartCleanup(j.interval, j.stop)
	return nil
}

func (j *limiterJanitor) Stop(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stop != nil {
		close(j.stop)
		j.stop = nil
	}
	return nil
}
