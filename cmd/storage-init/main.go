package main

import (
	"context"
	"errors"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"grafsys/config"
)

func main() {
	logger := log.New()
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	cfg.ApplyLogLevel(logger)
	if err := cfg.RequireStorage(); err != nil {
		logger.Fatal(err)
	}
	logger.Info("storage init starting")

	ctx := context.Background()
	connStr := cfg.Storage.ConnectionString

	if err := createTables(ctx, connStr, []string{
		cfg.Storage.OrdersTable,
		cfg.Storage.ProductsTable,
		cfg.Storage.CategoriesTable,
		cfg.Storage.EmployeesTable,
	}); err != nil {
		logger.Fatalf("create tables: %v", err)
	}

	if err := createQueues(ctx, connStr, []string{cfg.Storage.CommandQueue}); err != nil {
		logger.Fatalf("create queues: %v", err)
	}

	logger.Info("storage init complete")
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
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
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
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
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}
