package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/CharanSaiVaddi/blockctl/internal/api"
	"github.com/CharanSaiVaddi/blockctl/internal/clock"
	"github.com/CharanSaiVaddi/blockctl/internal/config"
	"github.com/CharanSaiVaddi/blockctl/internal/progress"
	"github.com/CharanSaiVaddi/blockctl/internal/remote"
	"github.com/CharanSaiVaddi/blockctl/internal/storage"
	"github.com/CharanSaiVaddi/blockctl/internal/worker"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg)

	store := storage.NewSQLiteStorage(log)
	if err := store.Init(cfg.DBPath); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	client, err := remote.NewClient(remote.Config{
		BaseURL:     cfg.BaseURL,
		ProfilePath: cfg.ProfilePath,
		AuthCookie:  cfg.AuthCookie,
		UserAgent:   cfg.UserAgent,
	}, log)
	if err != nil {
		return err
	}

	broker := progress.NewBroker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unreachable; progress events stay local")
		}
		go progress.NewRedisSink(rdb, cfg.RedisChannel, log).Run(ctx, broker)
	}
	if cfg.AMQPURL != "" {
		sink, err := progress.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, "", log)
		if err != nil {
			log.WithError(err).Warn("amqp unavailable; progress events stay local")
		} else {
			defer sink.Close()
			go sink.Run(ctx, broker)
		}
	}

	w, err := worker.NewWorker(store, client, remote.NewExecutor(client), broker, clock.Real{}, log, worker.Config{
		InterUnitDelay:  cfg.InterUnitDelayDuration(),
		MaxErrors:       cfg.MaxErrors,
		StaleAfter:      cfg.StaleAfterDuration(),
		MonitorSchedule: cfg.MonitorSchedule,
		HideDelay:       cfg.HideDelayDuration(),
	})
	if err != nil {
		return err
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	srv := api.NewServer(w, broker, log)
	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen(cfg.ListenAddr) }()

	select {
	case <-ctx.Done():
	case err = <-listenErr:
		log.WithError(err).Error("api stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
		log.WithError(serr).Warn("api shutdown")
	}
	if ctx.Err() != nil {
		<-workerDone
	}
	return err
}
