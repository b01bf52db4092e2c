package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/cache"
	"tiktok-publisher/infrastructure/clients/tiktok"
	"tiktok-publisher/infrastructure/configuration"
	"tiktok-publisher/infrastructure/logger"
	"tiktok-publisher/infrastructure/persistence"
	"tiktok-publisher/infrastructure/pubsub"
	"tiktok-publisher/infrastructure/queue"
	"tiktok-publisher/infrastructure/realtime"
	"tiktok-publisher/infrastructure/scheduler"
	"tiktok-publisher/infrastructure/servicebus"
	"tiktok-publisher/infrastructure/storage"
	"tiktok-publisher/infrastructure/utils"
	httpHandler "tiktok-publisher/interfaces/http"
	"tiktok-publisher/server"
	"tiktok-publisher/usecase"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Load env from files (non-destructive; OS env still has precedence)
	configuration.LoadEnvFromFile("config.env", ".env")
	configuration.Reload()
	app := configuration.C.App

	db, isMSSQL, err := InitiateDatabase()
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Database initialization failed")
	}
	defer db.Close()

	var accountRepository repository.IAccount
	var intentRepository repository.IPublishIntent
	if isMSSQL {
		if err := persistence.EnsureTikTokSchemaMSSQL(db); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring tiktok schema (mssql)")
		}
		accountRepository = persistence.NewAccountRepositoryMSSQL(db)
		intentRepository = persistence.NewPublishIntentRepositoryMSSQL(db)
	} else {
		if err := persistence.EnsureTikTokSchema(db); err != nil {
			logger.GetLogger().WithField("error", err).Error("failed ensuring tiktok schema")
		}
		accountRepository = persistence.NewAccountRepository(db)
		intentRepository = persistence.NewPublishIntentRepository(db)
	}

	redisClient, err := cache.NewCache(
		ctx,
		fmt.Sprintf("%s:%s", configuration.C.RedisClient.Host, configuration.C.RedisClient.Port),
		configuration.C.RedisClient.Username,
		configuration.C.RedisClient.Password,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - continuing without Redis features")
		redisClient = nil
	} else {
		logger.GetLogger().Info("Redis client initialized successfully.")
		defer redisClient.Close()
	}

	pendingStates := InitiatePendingStates(redisClient)

	mongoDb := InitiateMongo(ctx)
	var audit persistence.IIntentAuditRepository
	var history httpHandler.IntentHistory
	if mongoDb != nil {
		audit = persistence.NewIntentAuditRepository(mongoDb, configuration.C.Database.Mongo.Name)
		history = audit
		defer func() { _ = mongoDb.Disconnect(context.Background()) }()
	}

	var publisher repository.IIntentEvents
	pubSubClient, err := pubsub.NewPubSub(ctx, configuration.C.Pubsub.ProjectID)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("PubSub not available - intent events stay in-process")
	} else {
		intentPublisher := pubsub.NewIntentPublisher(pubSubClient, configuration.C.Pubsub.Topic)
		publisher = intentPublisher
		defer func() {
			if p, ok := intentPublisher.(*pubsub.IntentPublisher); ok {
				p.Stop()
			}
			_ = pubSubClient.Close()
		}()
	}

	hub := realtime.NewIntentHub()
	events := usecase.IntentEventFanout{hub, publisher}
	if audit != nil {
		events = append(events, audit)
	}

	tiktokConfig, err := configuration.GetTikTokConfig()
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("TikTok credentials not configured - OAuth and publishing calls will fail")
	}
	var tiktokClient repository.ITikTokClient
	if tiktokConfig.Mock {
		logger.GetLogger().Info("TIKTOK_MOCK enabled: using in-memory TikTok client")
		tiktokClient = tiktok.NewMockClient()
	} else {
		tiktokClient = tiktok.NewClient(tiktok.NewHTTPClient(tiktokConfig.HTTPTimeout, utils.SleepContext), tiktok.ClientConfig{
			ClientKey:    tiktokConfig.ClientKey,
			ClientSecret: tiktokConfig.ClientSecret,
			RedirectURI:  tiktokConfig.RedirectURI,
		})
	}

	queueConfig := configuration.GetQueueConfig()
	delayedQueue := InitiateQueue(ctx, queueConfig, redisClient)

	opts := usecase.Options{
		ClientKey:            tiktokConfig.ClientKey,
		RedirectURI:          tiktokConfig.RedirectURI,
		ExtraScopes:          tiktokConfig.ExtraScopes,
		ForceVerify:          tiktokConfig.ForceVerify,
		StatusAttempts:       tiktokConfig.StatusAttempts,
		StatusInterval:       tiktokConfig.StatusInterval,
		ContentPostingMethod: tiktokConfig.ContentPostingMethod,
		JobGroup:             queueConfig.JobGroup,
		Sleep:                utils.SleepContext,
	}

	tokenUsecase := usecase.NewTokenUsecase(tiktokClient, accountRepository, opts)
	poller := usecase.NewStatusPoller(tiktokClient, opts)
	publishUsecase := usecase.NewPublishUsecase(tiktokClient, tokenUsecase, poller, opts)
	accountUsecase := usecase.NewAccountUsecase(tokenUsecase, tiktokClient, accountRepository, intentRepository, pendingStates, opts)
	postingUsecase := usecase.NewPostingUsecase(accountRepository, intentRepository, tokenUsecase, publishUsecase, poller, events, opts)
	scheduleUsecase := usecase.NewScheduleUsecase(accountRepository, intentRepository, delayedQueue, tokenUsecase, publishUsecase, events, opts)

	blobStore, err := storage.NewMinioBlobStore(configuration.GetStorageConfig())
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Object storage not available - presigned uploads disabled")
	}
	filesUsecase := usecase.NewFilesUsecase(blobStore)

	checks := map[string]httpHandler.HealthCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if mongoDb != nil {
		checks["mongo"] = func(ctx context.Context) error { return mongoDb.Ping(ctx, nil) }
	}

	router := server.InitiateRouter(
		server.RouterConfig{SecretKey: app.SecretKey, CorsOrigins: app.CorsOrigins},
		httpHandler.NewTikTokHandler(accountUsecase, postingUsecase, scheduleUsecase, history),
		httpHandler.NewFilesHandler(filesUsecase),
		httpHandler.NewHealthHandler(checks),
		hub,
	)

	if delayedQueue != nil && delayedQueue.Ready() {
		g.Go(func() error {
			if err := delayedQueue.Run(ctx, scheduleUsecase.Execute); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.GetLogger().Warn("Delayed queue not available - scheduled posts are disabled")
	}

	sweeper := scheduler.NewSweeper(pendingStates, scheduleUsecase)
	if err := sweeper.Start(ctx); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while starting sweeper")
	}
	defer sweeper.Stop()

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled}).Info("Starting application")
	g.Go(func() error {
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if app.TLSEnabled {
			cert := app.TLSCertFile
			key := app.TLSKeyFile
			if cert == "" || key == "" {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			} else {
				logger.GetLogger().WithFields(map[string]interface{}{"cert": cert, "key": key}).Info("Serving HTTPS")
				if err := httpServer.ListenAndServeTLS(cert, key); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
		} else {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

// InitiateDatabase opens SQL Server when DB_VENDOR=mssql or ENV is
// production, PostgreSQL otherwise. The bool reports the SQL Server path.
func InitiateDatabase() (*sql.DB, bool, error) {
	env := os.Getenv("ENV")
	if os.Getenv("DB_VENDOR") == "mssql" || env == "production" || env == "prod" {
		mssql, err := persistence.NewMSSQLDB()
		if err != nil {
			logger.GetLogger().WithField("error", err).Error("Cannot connect to MSSQL")
			return nil, true, err
		}
		return mssql, true, nil
	}

	postgres, err := persistence.NewPostgreSQLDB()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to PostgreSQL")
		return nil, false, err
	}
	return postgres, false, nil
}

// InitiatePendingStates prefers Redis, then MySQL, then process memory.
func InitiatePendingStates(redisClient *redis.Client) repository.IPendingState {
	if redisClient != nil {
		logger.GetLogger().Info("OAuth pending states stored in Redis")
		return cache.NewPendingStateCache(redisClient)
	}
	gormDb, err := persistence.NewMySQLGorm()
	if err == nil {
		if err = persistence.EnsurePendingStateSchema(gormDb); err == nil {
			logger.GetLogger().Info("OAuth pending states stored in MySQL")
			return persistence.NewPendingStateRepository(gormDb)
		}
	}
	logger.GetLogger().WithField("error", err).Warn("OAuth pending states kept in memory - not shared across instances")
	return cache.NewMemoryPendingState()
}

// InitiateMongo returns nil when MongoDB is not configured or unreachable.
func InitiateMongo(ctx context.Context) *mongo.Client {
	mongoDb, err := persistence.NewMongoDb(
		configuration.C.Database.Mongo.Host,
		configuration.C.Database.Mongo.Port,
		configuration.C.Database.Mongo.User,
		configuration.C.Database.Mongo.Password,
		configuration.C.Database.Mongo.Name,
	)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB not available - continuing without intent audit")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoDb.Ping(pingCtx, nil); err != nil {
		logger.GetLogger().WithField("error", err).Warn("MongoDB ping failed - continuing without intent audit")
		_ = mongoDb.Disconnect(context.Background())
		return nil
	}
	logger.GetLogger().Info("MongoDB connected successfully")
	return mongoDb
}

// InitiateQueue returns nil when the configured backend cannot be reached.
func InitiateQueue(ctx context.Context, cfg configuration.QueueConfig, redisClient *redis.Client) repository.IDelayedQueue {
	switch cfg.Backend {
	case "servicebus":
		client, err := servicebus.NewServiceBus(ctx, configuration.C.ServiceBus.Namespace)
		if err != nil {
			logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available")
			return nil
		}
		return servicebus.NewDelayedQueue(client, cfg.Name)
	default:
		if redisClient == nil {
			return nil
		}
		return queue.NewRedisDelayedQueue(redisClient, cfg.Name)
	}
}
