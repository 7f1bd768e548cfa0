package main

import (
	"context"
	"os"
	"time"

	"kindred-chat/config"
	"kindred-chat/internal/changefeed"
	"kindred-chat/internal/handler"
	"kindred-chat/internal/notify"
	"kindred-chat/internal/presence"
	kredis "kindred-chat/internal/redis"
	"kindred-chat/internal/repository"
	"kindred-chat/internal/server"
	"kindred-chat/internal/services"
	"kindred-chat/internal/session"
	"kindred-chat/internal/storage"
	"kindred-chat/internal/websocket"
	"kindred-chat/pkg/database"
	"kindred-chat/pkg/logger"
)

const snapshotCacheTTL = 10 * time.Minute

type stores struct {
	users  repository.UserRepository
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	health func(ctx context.Context) error
}

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(log)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier, err := services.NewIdentityVerifier(cfg.JWTSecret)
	if err != nil {
		fatal(log, "identity verifier: %v", err)
	}

	broker := changefeed.NewBroker(changefeed.DefaultBuffer)
	st, closeStore := openStores(ctx, cfg, broker, log)
	defer closeStore()

	if cfg.SeedOnStart {
		if _, err := database.SeedDevelopment(ctx, st.users, st.convs, st.msgs); err != nil {
			log.Warnf("seed: %v", err)
		}
	}

	hub := websocket.NewHub()
	var (
		cache    services.SnapshotCache
		notifier notify.Notifier = websocket.NewLocalNotifier(hub)
		channel  presence.Channel
		limiter  *kredis.RateLimiter
	)
	if cfg.RedisEnabled {
		rdb := kredis.NewClient(kredis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := kredis.Ping(ctx, rdb); err != nil {
			fatal(log, "%v", err)
		}

		pc := kredis.NewPresenceChannel(rdb, cfg.PresenceTTL, cfg.PresenceSync, log)
		if err := pc.Start(ctx); err != nil {
			fatal(log, "%v", err)
		}
		channel = pc
		cache = kredis.NewCacheStore(rdb, snapshotCacheTTL)
		notifier = notify.NewRedisNotifier(kredis.NewPublisher(rdb))
		limiter = kredis.NewRateLimiter(rdb, kredis.RateLimitConfig{
			MessageLimit:  cfg.MessageLimit,
			MessageWindow: cfg.MessageWindow,
			SocketLimit:   kredis.DefaultRateLimitConfig().SocketLimit,
			SocketWindow:  kredis.DefaultRateLimitConfig().SocketWindow,
		})
		go websocket.NewRedisBridge(kredis.NewSubscriber(rdb), hub, log).Run(ctx)
	} else {
		log.Warnf("Redis disabled, presence and notifications are local to this process")
		channel = presence.NewMemoryChannel()
	}

	dir := services.NewUserDirectory(st.users, cache, log)
	convs := services.NewConversationService(st.convs, dir, log)
	msgs := services.NewMessageService(st.convs, st.msgs, dir, notifier, log)

	handlers := &server.Handlers{}
	guards := server.Guards{Verifier: verifier, Health: st.health}
	if limiter != nil {
		msgs.WithRateLimiter(limiter)
		guards.Limiter = limiter
	}
	if cfg.S3Enabled() {
		s3c, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			fatal(log, "s3 client: %v", err)
		}
		msgs.WithSigner(s3c)
		handlers.Attachments = handler.NewAttachmentHandler(s3c)
	}

	manager := session.NewManager(channel, st.users, convs, broker, session.Config{
		Grace:        cfg.PresenceGrace,
		Heartbeat:    cfg.HeartbeatEvery,
		StoreTimeout: cfg.StoreTimeout,
	}, log)
	msgs.AddObserver(manager)
	go manager.Run(ctx)

	online := manager.Online()
	handlers.Conversations = handler.NewConversationHandler(convs, dir, online)
	handlers.Messages = handler.NewMessageHandler(msgs)
	handlers.Presence = handler.NewPresenceHandler(online)
	handlers.Socket = websocket.NewHandler(manager, dir, hub, online.IsOnline, log)

	srv := server.New(cfg, log)
	srv.SetupRoutes(handlers, guards)
	srv.OnShutdown(cancel)
	srv.OnShutdown(msgs.Wait)
	srv.OnShutdown(manager.Shutdown)
	srv.OnShutdown(hub.CloseAll)

	if err := srv.Start(); err != nil {
		fatal(log, "server: %v", err)
	}
}

// openStores picks the durable store. The memory store publishes its own
// change events; Postgres changes arrive through LISTEN/NOTIFY.
func openStores(ctx context.Context, cfg *config.Config, broker *changefeed.Broker, log *logger.Logger) (stores, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warnf("Using the in-memory store, data will not survive a restart")
		mem := repository.NewMemoryStore(broker.Publish)
		return stores{users: mem.Users(), convs: mem.Conversations(), msgs: mem.Messages()}, func() {}
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		fatal(log, "database: %v", err)
	}
	go changefeed.NewPGSource(cfg.DSN(), cfg.ChangeChannel, broker, log).Run(ctx)

	return stores{
		users: repository.NewUserRepository(db),
		convs: repository.NewConversationRepository(db),
		msgs:  repository.NewMessageRepository(db),
		health: func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		},
	}, func() { _ = db.Close() }
}

func fatal(log *logger.Logger, template string, args ...interface{}) {
	log.Errorf(template, args...)
	log.Sync()
	os.Exit(1)
}
