package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/realtime-chat/internal/api"
	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/config"
	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/logger"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
	"github.com/fathima-sithara/realtime-chat/internal/tracker"
	"github.com/fathima-sithara/realtime-chat/internal/typing"
	"github.com/fathima-sithara/realtime-chat/internal/ws"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "prometheus scrape address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := logger.New(logger.Config{Development: cfg.Server.Development})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	metrics.Init()

	jv, err := auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
	if err != nil {
		zl.Fatalw("jwt validator init", "err", err)
	}

	mongoClient, err := repository.NewMongoClient(cfg)
	if err != nil {
		zl.Fatalw("mongo connect", "err", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	}()
	repos := repository.New(mongoClient.Database(cfg.Mongo.Database))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		zl.Warnw("redis unreachable at startup, presence mirror degraded", "err", err)
	}
	defer func() { _ = rdb.Close() }()
	statusStore := presence.NewStatusStore(rdb, cfg.Redis.Prefix, 24*time.Hour)

	var audit *events.Publisher
	if cfg.Kafka.Enabled {
		audit = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
		defer func() { _ = audit.Close() }()
	}

	registry := presence.NewRegistry()
	hub := rooms.NewHub(zl)

	receiptStore := repository.NewReceiptStore(repos)
	trk := tracker.New(receiptStore, hub, audit, cfg.MongoTimeout, zl)
	typ := typing.NewCoordinator(hub)

	lc := ws.NewLifecycle(registry, hub, audit, cfg.MongoTimeout, zl, repos.Users, statusStore)
	gw := ws.NewGateway(lc, hub, trk, typ, repos, jv, audit, ws.Options{
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageBytes,
		RateLimit:     cfg.WS.RateLimitPerSec,
		SendBuffer:    cfg.WS.SendBuffer,
		StoreTimeout:  cfg.MongoTimeout,
	}, zl)

	app := api.New(cfg, gw, registry, statusStore, repos, hub, trk, jv, zl)

	go func() {
		zl.Infow("metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, metrics.Handler()); err != nil {
			zl.Warnw("metrics server stopped", "err", err)
		}
	}()

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		zl.Infow("realtime service listening", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zl.Fatalw("server error", "err", e)
	case s := <-sig:
		zl.Infow("signal received, shutting down", "signal", s.String())
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Warnw("fiber shutdown", "err", err)
	}
}
