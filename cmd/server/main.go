package main

import (
	"context"
	"fmt"
	"group_chat/internal/config"
	"group_chat/internal/cryptographic/keywrap"
	"group_chat/internal/repository/chat"
	"group_chat/internal/repository/message"
	"group_chat/internal/repository/user"
	"group_chat/internal/service/auth"
	"group_chat/internal/service/dispatcher"
	"group_chat/internal/service/invitation"
	redisSvc "group_chat/internal/service/redis"
	"group_chat/internal/service/registry"
	"group_chat/internal/service/server"
	"group_chat/internal/utils/log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := log.Init(cfg.LogLevel, cfg.LogDevelopment); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	redis := redisSvc.NewRedis(rdb, "group_chat:")
	if err := redis.Ping(ctx); err != nil {
		log.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	userRepo := user.NewUserRepo(db)
	chatRepo := chat.NewChatRepo(db)
	messageRepo := message.NewMessageRepo(db)

	authorizer := auth.NewAuthorizer(auth.Config{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	}, userRepo)

	store, err := invitationStore(cfg, redis)
	if err != nil {
		log.Fatal("init invitation store failed", zap.Error(err))
	}
	invitations := invitation.NewService(store, chatRepo,
		invitation.WithMaxTTL(cfg.Invitation.MaxTTL),
		invitation.WithSweepInterval(cfg.Invitation.SweepInterval),
	)

	reg := registry.New()
	d := dispatcher.New(reg, authorizer, chatRepo, messageRepo)

	s := server.NewHttpServer(server.Config{
		Addr:         cfg.ListenAddr,
		WriteTimeout: cfg.WriteTimeout,
		ReadLimit:    cfg.ReadLimit,
	}, reg, d, authorizer, invitations, chatRepo)
	s.AddHealthCheck("mongo", func(ctx context.Context) error { return mongoDBClient.Ping(ctx, nil) })
	s.AddHealthCheck("redis", redis.Ping)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	g.Go(func() error { return invitations.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func invitationStore(cfg *config.Config, rdb *redisSvc.RedisService) (invitation.Store, error) {
	if cfg.Invitation.Store != config.InvitationStoreRedis {
		return invitation.NewMemoryStore(), nil
	}
	wrap, err := keywrap.New([]byte(cfg.Invitation.WrapSecret), "invitation")
	if err != nil {
		return nil, err
	}
	return invitation.NewRedisStore(rdb, wrap), nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
