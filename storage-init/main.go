package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"admin-approvals/config"
	"admin-approvals/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

type initConfig struct {
	Debug             bool   `env:"DEBUG"`
	DatabasePath      string `env:"DATABASE_PATH"`
	StorageConn       string `env:"STORAGE_CONNECTION_STRING"`
	NotificationQueue string `env:"NOTIFICATION_QUEUE"`
	InboxTable        string `env:"INBOX_TABLE"`
}

func main() {
	var cfg initConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx := context.Background()

	if cfg.DatabasePath != "" {
		store, err := storage.Open(ctx, cfg.DatabasePath)
		if err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		_ = store.Close()
		log.WithField("path", cfg.DatabasePath).Info("database schema ready")
	}

	if cfg.StorageConn == "" {
		log.Warn("STORAGE_CONNECTION_STRING not set; skipping table and queue creation")
		log.Info("storage init complete")
		return
	}

	if err := createTables(ctx, cfg.StorageConn, []string{cfg.InboxTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, cfg.StorageConn, []string{cfg.NotificationQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, queueAlreadyExists) {
			return err
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}

// hasErrorCode reports whether err is a storage response carrying code.
func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
