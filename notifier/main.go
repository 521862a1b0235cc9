package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"admin-approvals/config"
	"admin-approvals/storage"
)

type notifierConfig struct {
	Debug             bool          `env:"DEBUG"`
	DatabasePath      string        `env:"DATABASE_PATH,required,notEmpty"`
	RedisConn         string        `env:"REDIS_CONNECTION_STRING,required,notEmpty"`
	StorageConn       string        `env:"STORAGE_CONNECTION_STRING,required,notEmpty"`
	NotificationQueue string        `env:"NOTIFICATION_QUEUE,required,notEmpty"`
	InboxTable        string        `env:"INBOX_TABLE,required,notEmpty"`
	AdminCache        time.Duration `env:"ADMIN_CACHE_TTL" envDefault:"5m"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
}

func main() {
	var cfg notifierConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()
	logger.Info("notifier starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	redisOpts, err := config.RedisOptions(cfg.RedisConn)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	queue, err := newQueue(cfg.StorageConn, cfg.NotificationQueue)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	inbox, err := newInbox(cfg.StorageConn, cfg.InboxTable)
	if err != nil {
		log.Fatalf("inbox table: %v", err)
	}

	d := &dispatcher{
		admins: storage.NewCache(store, rc, cfg.AdminCache),
		inbox:  inbox,
		rc:     rc,
		logger: logger,
	}
	d.run(ctx, queue, cfg.PollInterval)
	logger.Info("notifier stopped")
}
