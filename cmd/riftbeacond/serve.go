package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"RiftBeacon/internal/api"
	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/config"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/observability/metrics"
	"RiftBeacon/internal/protocol"
	"RiftBeacon/internal/storage/mysql"
	"RiftBeacon/internal/web3"
	"RiftBeacon/internal/web3/ethereum"
	"RiftBeacon/pkg/logger"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger, event indexer and REST API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Logger()); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("riftbeacond")

	clock, closeClock, err := openClock(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeClock()

	queue, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭事件队列失败", slog.Any("error", err))
		}
	}()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	m := metrics.New()
	led, err := ledger.Open(cfg.LedgerOptions(), clock,
		ledger.WithPublisher(queue),
		ledger.WithPublisher(m.EventCounter()),
		ledger.WithObserver(m),
	)
	if err != nil {
		return err
	}
	defer led.Close()

	policy := auth.NewPolicy()
	roles, err := auth.LoadRoleFile(cfg.Auth.RolesFile)
	if err != nil {
		return err
	}
	if err := policy.Apply(roles); err != nil {
		return err
	}

	p, err := protocol.New(led, policy, cfg.Params)
	if err != nil {
		return err
	}

	authCfg := auth.MiddlewareConfig{Mode: auth.Mode(cfg.Auth.Mode)}
	if authCfg.Mode == auth.ModeJWT {
		tokens, err := auth.NewTokenManager(cfg.JWT())
		if err != nil {
			return err
		}
		authCfg.Tokens = tokens
	}

	indexer := events.NewIndexer(queue, repo,
		events.WithWorkerCount(cfg.Queue.Workers),
		events.WithFailureHook(m.ObserveIndexerFailure),
	)
	go func() {
		if err := indexer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("事件索引器退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, p,
		api.WithEventQuery(repo),
		api.WithMetrics(m),
		api.WithAuth(authCfg),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)
	log.Info("RiftBeacon 已就绪",
		slog.String("version", version),
		slog.Uint64("height", led.Height()),
		slog.String("clock", cfg.Clock.Source),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("storage", cfg.Storage.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openClock(ctx context.Context, cfg *config.Config) (web3.Clock, func(), error) {
	switch cfg.Clock.Source {
	case "ethereum":
		clock, err := ethereum.NewBlockClock(ctx, cfg.EthereumClock())
		if err != nil {
			return nil, nil, err
		}
		return clock, clock.Close, nil
	default:
		return web3.SystemClock{}, func() {}, nil
	}
}

func openQueue(cfg *config.Config) (events.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return events.NewRedisQueue(cfg.RedisQueue())
	case "rabbitmq":
		return events.NewRabbitMQQueue(cfg.RabbitMQQueue())
	default:
		return events.NewMemoryQueue(cfg.Queue.Size), nil
	}
}

func openRepository(ctx context.Context, cfg *config.Config) (mysql.EventRepository, error) {
	switch cfg.Storage.Driver {
	case "mysql":
		return mysql.NewSQLEventRepository(ctx, cfg.Storage.MySQL)
	default:
		return mysql.NewMemoryEventRepository(cfg.Storage.DataDir)
	}
}
