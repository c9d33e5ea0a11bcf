package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewmcl6081/cloudchat/internal/app/registry"
	"github.com/andrewmcl6081/cloudchat/internal/app/rooms"
	"github.com/andrewmcl6081/cloudchat/internal/app/server"
	"github.com/andrewmcl6081/cloudchat/internal/app/server/ws"
	"github.com/andrewmcl6081/cloudchat/internal/app/worker"
	"github.com/andrewmcl6081/cloudchat/internal/config"
	"github.com/andrewmcl6081/cloudchat/internal/core/services"
	"github.com/andrewmcl6081/cloudchat/internal/platform/logger"
	"github.com/andrewmcl6081/cloudchat/internal/platform/telemetry"
	"github.com/andrewmcl6081/cloudchat/internal/plugins/postgres"
	redisPlugin "github.com/andrewmcl6081/cloudchat/internal/plugins/redis"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application", "server_id", cfg.Service.ID)

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// Redis holds presence and carries every cross-process frame; the
	// realtime layer cannot run without it.
	rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := postgres.New(ctx, *cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Plugins
	presence := redisPlugin.NewRedisPresenceStore(rdb)
	bridge := redisPlugin.NewRedisBridge(log, rdb, cfg.Service.ID)
	queue := redisPlugin.NewRedisMessageQueue(log, rdb)
	userRepo := postgres.NewUserRepository(db)
	convRepo := postgres.NewConversationRepo(db)
	msgRepo := postgres.NewMessageRepo(db)

	// Core services
	txManager := services.NewTxManager(log, db)
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	directorySvc := services.NewDirectoryService(log, userRepo, convRepo, txManager)

	// Realtime coordination
	roomMgr := rooms.NewManager(log, bridge, cfg.Service.ID, cfg.Realtime.EmitMessageErrors)
	hub := registry.NewRegistry(log, roomMgr, presence, bridge, cfg.Service.ID)
	hub.StatusHook = directorySvc.MarkOnline

	messageSvc := services.NewMessageService(log, queue, roomMgr, msgRepo, userRepo, txManager)
	convWorker := worker.NewConversationWorker(log, queue, messageSvc, cfg.Worker.MessageGroup)
	roomMgr.RunWorker(convWorker.Run)

	// Bridge listener: frames published by other processes land here.
	go func() {
		if err := bridge.Listen(ctx, hub); err != nil && ctx.Err() == nil {
			log.Error("bridge listener stopped", "err", err)
			stop()
		}
	}()

	wsOpts := ws.Options{
		WriteTimeout:    cfg.Realtime.WriteTimeout,
		PongTimeout:     cfg.Realtime.PongTimeout,
		PingInterval:    cfg.Realtime.PingInterval,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		SendBuffer:      cfg.Realtime.SendBuffer,
	}

	srv := server.NewServer(cfg.Service.Addr, log, directorySvc, messageSvc, tokenSvc, hub, roomMgr, wsOpts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		log.Error("server stopped", "err", err)
		os.Exit(1)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}
}
