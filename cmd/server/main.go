package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/christopherjohns/chatroom/internal/ai"
	"github.com/christopherjohns/chatroom/internal/config"
	"github.com/christopherjohns/chatroom/internal/history"
	"github.com/christopherjohns/chatroom/internal/ratelimit"
	"github.com/christopherjohns/chatroom/internal/room"
	"github.com/christopherjohns/chatroom/internal/server"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, closeStore, err := openStore(cfg.History)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}

	opts := []room.Option{
		room.WithStoreTimeout(cfg.History.StoreTimeout),
		room.WithAITimeout(cfg.AI.Timeout),
		room.WithReadLimit(cfg.Limits.MaxFrameBytes),
		room.WithIdleTimeout(cfg.Limits.ConnIdleTimeout),
		room.WithMaxConns(cfg.Limits.MaxConns),
	}
	if cfg.AI.Enabled() {
		opts = append(opts, room.WithCompleter(ai.NewOpenAI(ai.OpenAIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
		})))
		log.Printf("AI replies enabled via %s", cfg.AI.BaseURL)
	} else {
		log.Printf("AI replies disabled: AI_BASE_URL and AI_API_KEY not set")
	}
	rooms := room.NewManager(store, opts...)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var srvOpts []server.Option
	if cfg.Limits.UpgradeRate > 0 {
		limiter := ratelimit.NewIPLimiter(cfg.Limits.UpgradeRate, cfg.Limits.UpgradeWindow)
		go sweep(sweepCtx, limiter, cfg.Limits.UpgradeWindow)
		srvOpts = append(srvOpts, server.WithLimiter(limiter))
	}
	if ttl := cfg.Limits.RoomIdleTimeout; ttl > 0 {
		go evictIdle(sweepCtx, rooms, ttl)
	}
	srv := server.New(cfg.ListenAddr, rooms, srvOpts...)

	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				stopSweep()
				return srv.Shutdown(ctx)
			},
			// Sessions flush through the store, so it closes after them.
			"rooms": func(ctx context.Context) error {
				err := rooms.Shutdown(ctx)
				if cerr := closeStore(); cerr != nil && err == nil {
					err = cerr
				}
				return err
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// openStore builds the configured history backend and a func that releases it.
func openStore(cfg config.HistoryConfig) (history.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
		return history.NewRedisStore(rdb), rdb.Close, nil
	case config.BackendBadger:
		db, err := history.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Opened Badger store at %s", cfg.BadgerPath)
		return history.NewBadgerStore(db), db.Close, nil
	default:
		log.Printf("Using in-memory history store; history is lost on restart")
		return history.NewMemoryStore(), func() error { return nil }, nil
	}
}

// sweep periodically forgets IPs with no recent upgrade attempts.
func sweep(ctx context.Context, l *ratelimit.IPLimiter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// evictIdle periodically closes rooms with no connections for ttl.
func evictIdle(ctx context.Context, rooms *room.Manager, ttl time.Duration) {
	t := time.NewTicker(max(ttl/2, time.Second))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rooms.EvictIdle(ctx, ttl)
		}
	}
}
