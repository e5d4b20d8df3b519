package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config 描述会话历史数据库。Path 为 SQLite 文件路径，InMemory 时忽略。
type Config struct {
	Path            string           `mapstructure:"path"`
	InMemory        bool             `mapstructure:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime"`
	Logger          logger.Interface `mapstructure:"-"`
}

const (
	defaultBusyTimeout = 5 * time.Second
	memoryDBName       = "ragcli"
)

// Storage 持久化会话历史与问答记录
type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Open 打开会话历史库，建好 chat_turns 与 query_records 两张表后返回
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if err := ensureParentDir(cfg.Path); err != nil {
			return nil, err
		}
	}

	gormCfg := &gorm.Config{}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	tunePool(sqlDB, cfg)

	s := &Storage{db: db, sqlDB: sqlDB}
	for _, step := range []func(context.Context) error{s.Migrate, s.Ping} {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// buildDSN 把连接参数写成 pragma，每个新连接都会生效
func buildDSN(cfg Config) (string, error) {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")

	if cfg.InMemory {
		q.Set("mode", "memory")
		q.Set("cache", "shared")
		return "file:" + memoryDBName + "?" + q.Encode(), nil
	}
	if cfg.Path == "" {
		return "", errors.New("storage.path is required unless storage.in_memory is set")
	}
	if cfg.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode(), nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history db dir: %w", err)
	}
	return nil
}

func tunePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errors.New("storage not initialized")
	}
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Migrate 创建或更新会话历史与问答记录表
func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&ChatTurn{}, &QueryRecord{}); err != nil {
		return fmt.Errorf("migrate history tables: %w", err)
	}
	return nil
}

func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}
