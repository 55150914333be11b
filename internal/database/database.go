package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Service exposes database health and shutdown to the HTTP layer.
type Service interface {
	Health(ctx context.Context) map[string]string
	Close() error
}

type service struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens a pgx-backed *sql.DB and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, logger *zap.Logger) Service {
	return &service{db: db, logger: logger}
}

// Health pings the database and reports pool statistics together with the
// number of statuses still waiting for a gateway outcome.
func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("database health check failed", zap.Error(err))
		return map[string]string{
			"status": "down",
			"error":  fmt.Sprintf("db down: %v", err),
		}
	}

	pool := s.db.Stats()
	stats := map[string]string{
		"status":           "up",
		"open_connections": strconv.Itoa(pool.OpenConnections),
		"in_use":           strconv.Itoa(pool.InUse),
		"idle":             strconv.Itoa(pool.Idle),
		"wait_count":       strconv.FormatInt(pool.WaitCount, 10),
		"wait_duration":    pool.WaitDuration.String(),
	}

	var unsettled int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM order_statuses WHERE status IN ('NOT_INITIATED', 'PENDING')`,
	).Scan(&unsettled)
	if err != nil {
		s.logger.Warn("unsettled status count failed", zap.Error(err))
	} else {
		stats["unsettled_statuses"] = strconv.FormatInt(unsettled, 10)
	}

	if pool.WaitCount > 1000 {
		stats["message"] = "connection pool is saturated"
	}
	return stats
}

func (s *service) Close() error {
	err := s.db.Close()
	s.logger.Info("database connection closed", zap.Error(err))
	return err
}
