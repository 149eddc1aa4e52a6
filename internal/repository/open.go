package repository

import (
	"context"
	"fmt"

	"github.com/nicolasmoreira/linkuy-connect-app/common/config"
	"github.com/nicolasmoreira/linkuy-connect-app/common/database"
	commonredis "github.com/nicolasmoreira/linkuy-connect-app/common/redis"
	"go.uber.org/zap"
)

// OpenOptions 后端选择
type OpenOptions struct {
	Driver      string // memory / sqlite / postgres / redis
	Database    config.DatabaseConfig
	Redis       config.RedisConfig
	RedisPrefix string
	JournalCap  int
}

// Open 按驱动创建后端；SQL 后端会先执行迁移，Redis 后端会先 Ping
func Open(ctx context.Context, opts OpenOptions, logger *zap.Logger) (Backend, error) {
	journalCap := opts.JournalCap
	if journalCap <= 0 {
		journalCap = DefaultJournalCap
	}

	switch opts.Driver {
	case "memory":
		b := NewMemoryBackend()
		b.journalCap = journalCap
		logger.Warn("Using in-memory store, state will not survive restarts")
		return b, nil

	case "sqlite", "postgres":
		dbCfg := opts.Database
		dbCfg.Driver = opts.Driver
		db, err := database.Open(&dbCfg)
		if err != nil {
			return nil, err
		}
		dialect := Dialect(opts.Driver)
		if err := Migrate(db, dialect, logger); err != nil {
			db.Close()
			return nil, err
		}
		b := NewSQLBackend(db, dialect, logger)
		b.journalCap = journalCap
		logger.Info("SQL store ready", zap.String("dialect", string(dialect)))
		return b, nil

	case "redis":
		client, err := commonredis.Connect(ctx, &opts.Redis)
		if err != nil {
			return nil, err
		}
		b := NewRedisBackend(client, opts.RedisPrefix, logger)
		b.journalCap = journalCap
		logger.Info("Redis store ready", zap.String("addr", opts.Redis.Addr))
		return b, nil
	}

	return nil, fmt.Errorf("unsupported store driver: %q", opts.Driver)
}
