// Package postgres 提供会话、学习条目、额度账本与使用记录的持久化
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"study-forge-api/internal/config"
	"study-forge-api/internal/domain/entity"
	"study-forge-api/pkg/logger"
)

const pingTimeout = 5 * time.Second

var tracer = otel.Tracer("postgres")

// Client GORM 连接
type Client struct {
	db *gorm.DB
}

// DSN 根据配置构建连接串
func DSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}

// NewClient 按配置连接并设置连接池
func NewClient(cfg *config.PostgresConfig) (*Client, error) {
	c, err := Open(DSN(cfg), cfg.SlowThreshold)
	if err != nil {
		return nil, err
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return c, nil
}

// Open 打开连接并 ping，慢查询以 warn 级别写入 slog
func Open(dsn string, slowThreshold time.Duration) (*Client, error) {
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}
	gl := gormlogger.New(
		slog.NewLogLogger(logger.Default().Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c := &Client{db: db}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return c, nil
}

func (c *Client) ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate 创建或更新流水线相关表
func (c *Client) AutoMigrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.AutoMigrate")
	defer span.End()

	err := c.db.WithContext(ctx).AutoMigrate(
		&entity.Session{},
		&entity.SessionFile{},
		&entity.CreditAccount{},
		&entity.CreditTransaction{},
		&entity.UsageRecord{},
		&entity.StudyItem{},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DB GORM 实例
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 关闭连接池
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck 就绪检查
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	if err := c.ping(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}
