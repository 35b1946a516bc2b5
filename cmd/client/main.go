package main

import (
	"context"
	"errors"
	"fmt"
	"group_chat/internal/config"
	"group_chat/internal/protocol/delivery"
	"group_chat/internal/service/client"
	redisSvc "group_chat/internal/service/redis"
	"group_chat/internal/utils/log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadClient()
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

	var opts []delivery.Option
	if cfg.Owner != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		journal := client.NewRedisJournal(redisSvc.NewRedis(rdb, "group_chat_client:"))
		opts = append(opts, delivery.WithJournal(journal, cfg.Owner))
	}

	console := client.NewConsole(os.Stdout)
	c := client.NewClient(client.Config{
		Host:   cfg.ServerHost,
		Secure: cfg.Secure,
		Token:  cfg.Token,
	}, console.HandleEvent, opts...)
	console.Attach(c)

	// stdin EOF ends the session
	go func() {
		if err := console.Run(ctx, os.Stdin); err != nil {
			log.Error("read input failed", zap.Error(err))
		}
		stop()
	}()

	if err := c.Run(ctx); err != nil {
		if errors.Is(err, client.ErrRejected) {
			fmt.Fprintln(os.Stderr, "the server rejected CHAT_TOKEN")
		}
		os.Exit(1)
	}
}
