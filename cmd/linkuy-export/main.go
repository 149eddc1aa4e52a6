package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/common/logger"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/config"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/report"
	"github.com/nicolasmoreira/linkuy-connect-app/internal/repository"
	"go.uber.org/zap"
)

// 导出投递日志为 Excel，供照护方核对历史上报
func main() {
	var output = flag.String("o", "linkuy-journal.xlsx", "Output file path")
	var limit = flag.Int("limit", 0, "Export only the most recent N entries (0 = all retained)")
	var timezone = flag.String("tz", "", "Timezone for timestamps (default: DND_TIMEZONE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level:    cfg.Log.Level,
		Format:   "console",
		Service:  "linkuy-export",
		DeviceID: cfg.Log.DeviceID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tz := *timezone
	if tz == "" {
		tz = cfg.Inactivity.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Fatal("Invalid timezone", zap.String("timezone", tz), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.Store.Driver,
		Database:    cfg.Database,
		Redis:       cfg.Redis,
		RedisPrefix: cfg.Store.RedisPrefix,
		JournalCap:  cfg.Store.JournalCap,
	}, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	store := repository.NewStateStore(backend, cfg.Store.QueueMaxEntries, log)
	defer store.Close()

	entries, err := store.Journal(ctx, *limit)
	if err != nil {
		log.Fatal("Failed to read delivery journal", zap.Error(err))
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatal("Failed to create output file", zap.String("path", *output), zap.Error(err))
	}
	if err := report.WriteJournalXLSX(f, entries, loc); err != nil {
		f.Close()
		log.Fatal("Failed to write journal", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		log.Fatal("Failed to close output file", zap.Error(err))
	}

	log.Info("Delivery journal exported",
		zap.String("path", *output),
		zap.Int("entries", len(entries)),
	)
}
