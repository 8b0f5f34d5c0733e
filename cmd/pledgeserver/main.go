package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/mayday-pac/pledgeservice/app/controllers"
	"github.com/mayday-pac/pledgeservice/app/repository"
	"github.com/mayday-pac/pledgeservice/internal/pkg/billing"
	"github.com/mayday-pac/pledgeservice/internal/pkg/cache"
	"github.com/mayday-pac/pledgeservice/internal/pkg/config"
	"github.com/mayday-pac/pledgeservice/internal/pkg/counter"
	"github.com/mayday-pac/pledgeservice/internal/pkg/jobqueue"
	"github.com/mayday-pac/pledgeservice/internal/pkg/middleware"
	"github.com/mayday-pac/pledgeservice/internal/pkg/pledges"
	"github.com/mayday-pac/pledgeservice/internal/pkg/router"
	"github.com/mayday-pac/pledgeservice/internal/pkg/statistics"
	"github.com/mayday-pac/pledgeservice/internal/pkg/teamledger"
)

// memoryQueueCapacity bounds pending jobs when no Redis is configured
const memoryQueueCapacity = 1024

func main() {
	cfg, err := config.Load(".env", "../../.env")
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	} else {
		log.SetLevel(log.LevelInfo)
	}

	application, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)
		if err := application.App.Listen(addr); err != nil {
			log.Fatalf("[Main] Listen on %s: %v", addr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	application.Shutdown(10 * time.Second)
}

// Application bundles the HTTP app with the resources it must release on shutdown
type Application struct {
	App       *fiber.App
	jobs      *jobqueue.Manager
	repos     *repository.Factory
	redis     *redis.Client
	limiterDB fiber.Storage
}

func NewApplication(cfg *config.Config) (*Application, error) {
	factory := repository.NewFactory(cfg)
	repos, err := factory.GetRepositories()
	if err != nil {
		return nil, err
	}

	aggregateCache, redisClient, err := cache.New(cfg)
	if err != nil {
		return nil, err
	}

	engine := counter.NewEngine(repos.Shard, aggregateCache, cfg.ShardCount, cfg.CacheTTL)
	ledger := teamledger.New(repos.Pledge, repos.TeamTotal)
	stats := statistics.NewService(engine, ledger, repos, aggregateCache, statistics.Options{
		CounterName:  cfg.TotalCounterName,
		FixedAddends: cfg.FixedAddendsTotal(),
		CacheTTL:     cfg.CacheTTL,
	})

	payments, err := billing.NewPaymentBackend(cfg)
	if err != nil {
		return nil, err
	}
	mailing, err := billing.NewMailingListSubscriber(cfg)
	if err != nil {
		return nil, err
	}

	var queue jobqueue.Runner
	if redisClient != nil {
		queue = jobqueue.NewQueue(redisClient, cfg.JobQueueWorkers)
	} else {
		log.Warn("[Main] No Redis configured, deferred aggregate updates are kept in memory")
		queue = jobqueue.NewMemoryQueue(cfg.JobQueueWorkers, memoryQueueCapacity)
	}

	pledgeSvc := pledges.NewService(pledges.Deps{
		Pledges:     repos.Pledge,
		Engine:      engine,
		Ledger:      ledger,
		Cache:       aggregateCache,
		Payments:    payments,
		Mailing:     mailing,
		Jobs:        queue,
		CounterName: cfg.TotalCounterName,
		PublicURL:   cfg.PublicURL,
	})

	queue.Register(jobqueue.JobTypeAggregateUpdate, jobqueue.AggregateUpdateProcessor(pledgeSvc))
	queue.Register(jobqueue.JobTypeTeamBackfill, jobqueue.TeamBackfillProcessor(ledger))
	manager := jobqueue.NewManager(queue, jobqueue.ManagerOptions{
		BackfillInterval:  cfg.BackfillInterval,
		BackfillBatchSize: cfg.BackfillBatchSize,
	})
	manager.Start()

	limiterStorage, err := cache.NewFiberStorage(cfg)
	if err != nil {
		log.Warnf("[Main] Rate limiter falls back to process memory: %v", err)
		limiterStorage = nil
	}

	app := fiber.New(fiber.Config{
		AppName:   "pledgeservice",
		BodyLimit: 64 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", middleware.RequireAdmin(cfg.AdminUser, cfg.AdminPasswordHash), monitor.New())

	router.InstallRouter(app, router.Deps{
		Config:         cfg,
		Pledges:        controllers.NewPledgeController(pledgeSvc, stats),
		Admin:          controllers.NewAdminController(stats, ledger, pledgeSvc, manager),
		LimiterStorage: limiterStorage,
	})

	return &Application{
		App:       app,
		jobs:      manager,
		repos:     factory,
		redis:     redisClient,
		limiterDB: limiterStorage,
	}, nil
}

// Shutdown stops accepting requests, drains the workers and closes the stores.
func (a *Application) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.App.ShutdownWithContext(ctx); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	a.jobs.Stop()

	if a.limiterDB != nil {
		if err := a.limiterDB.Close(); err != nil {
			log.Warnf("[Main] Closing limiter storage: %v", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warnf("[Main] Closing redis: %v", err)
		}
	}
	if err := a.repos.Close(); err != nil {
		log.Warnf("[Main] Closing database: %v", err)
	}
}
