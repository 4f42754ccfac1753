// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connectors

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rapidaai/orchestrator/pkg/commons"
)

// PostgresConnector hands out request-scoped gorm handles over a shared
// connection pool.
type PostgresConnector interface {
	DB(ctx context.Context) *gorm.DB
	Close() error
}

type postgresConnector struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewPostgresConnector opens the shared gorm connection pool. DSN is the
// standard libpq keyword/value or URL form.
func NewPostgresConnector(dsn string, logger commons.Logger) (PostgresConnector, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Infow("connected to postgres")
	return &postgresConnector{db: db, logger: logger}, nil
}

func (c *postgresConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *postgresConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
