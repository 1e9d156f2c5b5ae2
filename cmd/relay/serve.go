package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/config"
	"github.com/developeragencia/conselhoscursor-sub003/internal/archive"
	"github.com/developeragencia/conselhoscursor-sub003/internal/mongo"
	"github.com/developeragencia/conselhoscursor-sub003/internal/postgres"
	"github.com/developeragencia/conselhoscursor-sub003/internal/redis"
	"github.com/developeragencia/conselhoscursor-sub003/internal/relay"
	"github.com/developeragencia/conselhoscursor-sub003/internal/security"
	grpcx "github.com/developeragencia/conselhoscursor-sub003/internal/transport/grpc"
	httpx "github.com/developeragencia/conselhoscursor-sub003/internal/transport/http"
	"github.com/developeragencia/conselhoscursor-sub003/internal/transport/ws"
	"github.com/developeragencia/conselhoscursor-sub003/pkg/logger"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run websocket, HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func initLogger(cfg *config.Config) *slog.Logger {
	return logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := initLogger(cfg)
	log.Info("starting consultation relay",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "messageLog", cfg.MessageLog.Backend)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- tracing: span-контекст нужен логгеру для trace_id/span_id ---
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// --- security ---
	keys, err := loadKeys(cfg.Security.JWT, false)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}
	verifier := security.NewJWTVerifier(keys, cfg.Security.JWT.Issuer, cfg.Security.JWT.Audience, cfg.Security.JWT.ClockSkew)

	// --- message log ---
	messages, closeStore, err := openMessageLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- presence ---
	var presence *redis.Presence
	if cfg.Redis.Enabled() {
		rc, err := redis.NewClient(ctx, cfg.Redis.ToRedisConfig())
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		presence = redis.NewPresence(rc, cfg.Redis.PresenceTTL)
	}

	// --- archive ---
	var presenceStore archive.PresenceStore
	if presence != nil {
		presenceStore = presence
	}
	writer := archive.NewWriter(cfg.Archive.ToArchiveConfig(), messages, presenceStore, log.With("component", "archive"))

	// --- relay ---
	hub := relay.NewHub(cfg.Relay.ToRelayConfig(), verifier,
		relay.WithRecorder(writer),
		relay.WithLogger(log.With("component", "relay")),
	)
	monitor := relay.NewMonitor(hub)
	go monitor.Run(ctx)
	go hub.RunJanitor(ctx)

	// --- HTTP + WS ---
	wsServer := ws.NewServer(hub, ws.Options{
		SendBuffer:     cfg.Relay.SendBuffer,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, log.With("component", "ws"))

	var (
		history  httpx.HistoryReader
		presRead httpx.PresenceReader
	)
	if messages != nil {
		history = messages
	}
	if presence != nil {
		presRead = presence
	}
	handler := httpx.NewHandler(hub, history, presRead, writer)
	router := httpx.NewRouter(httpx.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		InternalToken:  cfg.HTTP.InternalToken,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, httpx.Deps{
		Handler:  handler,
		Verifier: verifier,
		WS:       wsServer.HandleWS,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router)

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerInterceptor(cfg.GRPC.RequestTimeout),
			grpcx.InternalTokenInterceptor(cfg.HTTP.InternalToken),
		),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	health := grpcx.Register(grpcServer, grpcx.NewServer(hub))

	// --- run both servers ---
	errCh := make(chan error, 2)

	go func() {
		log.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if cfg.GRPC.Addr != "" {
		go func() {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				errCh <- fmt.Errorf("grpc listen: %w", err)
				return
			}
			log.Info("grpc listen", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// --- graceful shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal")
	case runErr = <-errCh:
		log.Error("server error", "err", runErr)
		stop()
	}

	health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	// соединения закрываются с 1001, события уходят в archive до его Close
	hub.Close()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := writer.Close(ctxShutdown); err != nil {
		log.Warn("archive drain incomplete", "err", err, "pending", writer.Stats().Pending)
	}

	log.Info("stopped")
	return runErr
}

// openMessageLog возвращает nil-хранилище при backend=none.
func openMessageLog(ctx context.Context, cfg *config.Config, log *slog.Logger) (archive.MessageStore, func(), error) {
	switch cfg.MessageLog.Backend {
	case config.BackendPostgres:
		if cfg.MessageLog.Migrate {
			if err := postgres.MigrateUp(cfg.Postgres.DSN); err != nil {
				return nil, nil, err
			}
			log.Info("postgres migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres.ToPGConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return postgres.NewMessageRepository(pool), pool.Close, nil

	case config.BackendMongo:
		client, db, err := mongo.Connect(ctx, cfg.Mongo.ToMongoConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		repo := mongo.NewMessageRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		return nil, func() {}, nil
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 10 * time.Second
}
