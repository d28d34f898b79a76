package application

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/psds-microservice/bridge-relay/internal/config"
	"github.com/psds-microservice/bridge-relay/internal/database"
	"github.com/psds-microservice/bridge-relay/internal/events"
	"github.com/psds-microservice/bridge-relay/internal/handler"
	"github.com/psds-microservice/bridge-relay/internal/jobs"
	"github.com/psds-microservice/bridge-relay/internal/metrics"
	"github.com/psds-microservice/bridge-relay/internal/router"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"github.com/psds-microservice/bridge-relay/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

const readinessInterval = 10 * time.Second

// API is the HTTP + WebSocket API application with an optional gRPC health server.
type API struct {
	cfg     *config.Config
	log     *zap.Logger
	srv     *http.Server
	grpcSrv *grpc.Server
	health  *health.Server
	db      *gorm.DB
	hub     *service.BridgeHub
	events  events.Publisher
	jobs    *jobs.Maintenance
}

// NewAPI validates config, prepares the schema, opens the database and wires every component.
func NewAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.Prepare(cfg, logger); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	store, err := NewMediaStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}

	creds := service.NewCredentialStore(db, logger)
	if err := creds.Load(ctx); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	bridges := service.NewBridgeService(db, creds, cfg.PublicBackendURL, logger)
	authn := service.NewAuthenticator(creds, bridges, logger)

	hub := service.NewBridgeHub(cfg.WSReadBufferSize, cfg.WSWriteBufferSize, cfg.WSMaxMessageSize, cfg.PingInterval, logger)
	hub.SetMetrics(m)
	hub.SetPublisher(pub)

	ingest := service.NewIngestService(store, bridges, logger)
	ingest.SetMetrics(m)
	ingest.SetPublisher(pub)

	r := router.New(router.Handlers{
		Health:  handler.NewHealthHandler(func() error { return database.Ping(db) }),
		Control: handler.NewBridgeWSHandler(hub, authn, cfg.AutoRegister, m, logger),
		Upload:  handler.NewUploadHandler(authn, ingest, cfg.SegmentMaxBytes, cfg.ManifestMaxBytes, logger),
		Stream:  handler.NewStreamHandler(service.NewStreamService(store), logger),
		Bridges: handler.NewBridgeHandler(hub, bridges, logger),
	}, router.Options{
		Logger:         logger,
		Gatherer:       reg,
		OwnerJWTSecret: []byte(cfg.OwnerJWTSecret),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	maint := jobs.NewMaintenance(jobs.Settings{
		Schedule:       cfg.CleanupSchedule,
		StaleAfter:     cfg.StaleAfter,
		Retention:      cfg.MediaRetention,
		CredentialSync: cfg.CredentialSync,
	}, hub, store, creds, m, logger)

	a := &API{
		cfg:    cfg,
		log:    logger,
		srv:    srv,
		db:     db,
		hub:    hub,
		events: pub,
		jobs:   maint,
	}
	if cfg.GRPCAddr() != "" {
		a.grpcSrv = grpc.NewServer()
		a.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(a.grpcSrv, a.health)
	}
	return a, nil
}

// Run starts the servers and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("metrics", base+"/metrics"),
		zap.String("control", "ws://"+host+":"+a.cfg.HTTPPort+"/bridge/ws"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if a.grpcSrv != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr())
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		a.log.Info("gRPC health server listening", zap.String("addr", a.cfg.GRPCAddr()))
		g.Go(func() error { return a.grpcSrv.Serve(lis) })
		g.Go(func() error { a.watchReadiness(gctx); return nil })
	}

	g.Go(func() error { return a.jobs.Start(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

// watchReadiness mirrors database reachability into the gRPC health status.
func (a *API) watchReadiness(ctx context.Context) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()
	for {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if err := database.Ping(a.db); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		a.health.SetServingStatus("", status)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *API) shutdown() error {
	a.log.Info("shutting down")
	a.hub.CloseAll()
	if a.health != nil {
		a.health.Shutdown()
	}
	if a.grpcSrv != nil {
		a.grpcSrv.GracefulStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.srv.Shutdown(shutdownCtx)

	if cerr := a.events.Close(); cerr != nil {
		a.log.Warn("close event publisher", zap.Error(cerr))
	}
	if sqlDB, derr := a.db.DB(); derr == nil {
		_ = sqlDB.Close()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// NewMediaStore builds the configured media backend.
func NewMediaStore(ctx context.Context, cfg *config.Config) (storage.MediaStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageMinIO:
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:  cfg.Storage.MinIOEndpoint,
			AccessKey: cfg.Storage.MinIOAccessKey,
			SecretKey: cfg.Storage.MinIOSecretKey,
			Bucket:    cfg.Storage.MinIOBucket,
			UseSSL:    cfg.Storage.MinIOUseSSL,
		})
	case config.StorageS3:
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.Storage.S3Endpoint,
			Region:    cfg.Storage.S3Region,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Bucket:    cfg.Storage.S3Bucket,
		})
	default:
		return storage.NewLocalStore(cfg.Storage.Root)
	}
}
