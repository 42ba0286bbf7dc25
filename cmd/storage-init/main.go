package main

import (
	"context"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"prism-board/config"
	"prism-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	cfg, err := config.LoadStorage()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	tables := []string{cfg.UsersTable, cfg.BoardsTable, cfg.ColumnsTable, cfg.TasksTable}
	if err := storage.CreateTables(ctx, cfg.ConnectionString, tables); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := storage.CreateQueues(ctx, cfg.ConnectionString, []string{cfg.CleanupQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	log.WithField("tables", tables).Info("storage init complete")
}
