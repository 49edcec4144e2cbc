package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus_chat/internal/config"
	"campus_chat/internal/domain"
	"campus_chat/internal/handler"
	"campus_chat/internal/middleware"
	"campus_chat/internal/presence"
	"campus_chat/internal/realtime"
	"campus_chat/internal/repository"
	"campus_chat/internal/service"
	"campus_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.NewWithOptions(logger.Options{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: "campus-chat",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, closeBackends, err := openBackends(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open storage", "error", err)
	}
	defer closeBackends()

	// Инициализация репозиториев и сервисов
	repos := repository.NewRepositories(backends, appLogger)
	services := service.NewServices(repos, cfg, appLogger)

	// Реестр присутствия и socket шлюз
	registry := presence.NewRegistry()
	metrics := realtime.NewMetrics(prometheus.DefaultRegisterer, registry.Len)
	gateway := realtime.NewGateway(services.Chat, services.Auth, registry, cfg.WebSocket, metrics, appLogger.With("component", "gateway"))

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, domain.RateLimitRule{
		Scope:  domain.RateLimitScopeUser,
		Limit:  cfg.RateLimit.Requests,
		Window: cfg.RateLimit.Window,
	}, appLogger)

	handlers := handler.NewHandlers(services, gateway, registry, cfg, appLogger)
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Сначала закрываем socket соединения: http.Server.Shutdown их не ждет.
		if err := gateway.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Gateway shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
		closeBackends()
		os.Exit(1)
	}

	appLogger.Info("Server exited")
}

// openBackends открывает подключения для выбранного драйвера хранилища.
func openBackends(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Backends, func(), error) {
	var (
		b       repository.Backends
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return b, closeAll, err
		}
		if cfg.Database.MaxConnections > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
		}
		if cfg.Database.MaxIdleTime > 0 {
			poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return b, closeAll, err
		}
		closers = append(closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			return b, closeAll, err
		}
		if cfg.Database.AutoMigrate {
			if err := repository.EnsureSchema(ctx, pool); err != nil {
				return b, closeAll, err
			}
		}
		log.Info("Database connection established")
		b.DB = pool

	case config.StoreDriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return b, closeAll, err
		}
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(disconnectCtx)
		})

		if err := client.Ping(ctx, nil); err != nil {
			return b, closeAll, err
		}
		coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		if err := repository.EnsureMongoIndexes(ctx, coll); err != nil {
			return b, closeAll, err
		}
		log.Info("MongoDB connection established", "database", cfg.Mongo.Database)
		b.Mongo = coll
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { rdb.Close() })

		if err := rdb.Ping(ctx).Err(); err != nil {
			return b, closeAll, err
		}
		log.Info("Redis connection established")
		b.Redis = rdb
	}

	return b, closeAll, nil
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.WebSocket.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Socket шлюз сам проверяет токен при handshake
	router.GET("/ws/chat", handlers.WebSocket.HandleChat)

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth(), rateLimitMiddleware.Limit())
	{
		v1.GET("/conversations", handlers.Chat.ListConversations)
		v1.GET("/history/:recipientId", handlers.Chat.GetHistory)
		v1.POST("/messages", handlers.Chat.SendMessage)
		v1.PUT("/conversations/:chatId/read", handlers.Chat.MarkRead)
		v1.PUT("/conversations/:chatId/messages/:messageId", handlers.Chat.EditMessage)
		v1.DELETE("/conversations/:chatId/messages/:messageId", handlers.Chat.DeleteMessage)
		v1.DELETE("/conversations/:chatId", handlers.Chat.DeleteConversation)
	}

	return router
}
