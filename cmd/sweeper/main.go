package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"field-dispatch/internal/config"
	"field-dispatch/internal/notify"
	"field-dispatch/internal/store"
	"field-dispatch/internal/sweeper"
	"field-dispatch/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	notifier := notify.NewRedisNotifier(redisClient, cfg.EventChannel)

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	sw := sweeper.New(cfg, st, notifier)
	log.Printf("sweeper running every %s", cfg.SweepInterval)
	if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("sweeper: %v", err)
	}
}
