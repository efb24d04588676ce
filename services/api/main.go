package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chatcore/internal/breaker"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/docstore"
	memstore "github.com/chatcore/internal/docstore/memory"
	mongostore "github.com/chatcore/internal/docstore/mongo"
	pgstore "github.com/chatcore/internal/docstore/postgres"
	"github.com/chatcore/internal/events"
	"github.com/chatcore/internal/handler"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/push"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/startup"
	"github.com/chatcore/internal/storage"
	membus "github.com/chatcore/internal/storage/memory"
	"github.com/chatcore/internal/ws"
)

const connectWait = 60 * time.Second

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	if *dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if err := run(cfg, *migrate && !*dev); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrateOnly bool) error {
	ctx := context.Background()

	backend, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	if migrateOnly {
		logger.Info("migrations applied")
		return nil
	}

	bus, err := openBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := docstore.NewMetrics(reg, cfg.StoreBackend)
	store := docstore.Instrument(docstore.WithRetry(docstore.WithNotifications(backend, bus), cfg.Retry), metrics)
	watcher := docstore.NewWatcher(store, bus, cfg.LivePollInterval).WithMetrics(metrics)

	var publisher events.Publisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, breaker.DefaultConfig())
		logger.Infof("domain events -> kafka topic %s", cfg.Kafka.Topic)
	}
	defer publisher.Close()
	pushClient := push.NewClient(cfg.PushServiceURL, breaker.DefaultConfig())
	opts := []service.Option{service.WithEvents(publisher), service.WithNotifier(pushClient)}

	users := service.NewUserDirectory(store, watcher, opts...)
	svcs := handler.Services{
		Users:     users,
		Direct:    service.NewDirectChats(store, watcher, users, opts...),
		Groups:    service.NewGroupChats(store, watcher, users, opts...),
		Channels:  service.NewChannels(store, watcher, opts...),
		Reactions: service.NewReactions(store, watcher, opts...),
	}
	views := handler.LiveViews(svcs)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(views, ws.Config{
		MaxConnections:   cfg.WS.MaxConnections,
		SendBufferSize:   cfg.WS.SendBufferSize,
		WriteTimeout:     cfg.WS.WriteTimeout,
		PongTimeout:      cfg.WS.PongTimeout,
		MaxMessageSize:   cfg.WS.MaxMessageSize,
		MaxSubscriptions: cfg.WS.MaxSubscriptions,
	}, reg)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	auth := middleware.TrustedHeaders
	if cfg.IdentityServiceURL != "" {
		auth = middleware.IdentityValidate(middleware.NewIdentityClient(cfg.IdentityServiceURL, nil, breaker.DefaultConfig()))
	} else {
		logger.Warnf("IDENTITY_SERVICE_URL is empty: trusting X-User-Id headers (development only)")
	}

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Config:      cfg,
			Services:    svcs,
			Hub:         hub,
			Views:       views,
			Auth:        auth,
			RateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
			Metrics:     reg,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (store=%s)", cfg.ServerAddr, cfg.StoreBackend)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	// Закрытие хаба отменяет все live-подписки до закрытия хранилища и шины.
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	return serveErr
}

// openStore подключает выбранный бэкенд хранилища документов.
func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4
		pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, connectWait, "")
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := pgstore.Migrate(migrateCtx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database connected, migrations applied")
		return pgstore.New(pool), nil
	case config.BackendMongo:
		client, err := startup.ConnectMongoWithRetry(ctx, cfg.Mongo.URI, connectWait, "")
		if err != nil {
			return nil, err
		}
		s := mongostore.New(client, cfg.Mongo.Database)
		idxCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.EnsureIndexes(idxCtx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Infof("mongo connected, database %s", cfg.Mongo.Database)
		return s, nil
	default:
		logger.Warnf("in-memory document store: data is lost on restart")
		return memstore.New(), nil
	}
}

// openBus: Redis, когда инстансов API несколько, иначе шина в памяти процесса.
func openBus(ctx context.Context, cfg *config.Config) (storage.ChangeBus, error) {
	if cfg.Redis.URL == "" {
		return membus.New(), nil
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, cfg.Redis.Channel, connectWait, "")
	if err != nil {
		return nil, err
	}
	logger.Info("redis change bus connected")
	return client, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatcore"
		password = "chatcore_secret"
		database = "chatcore"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.StoreBackend = config.BackendPostgres
	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
