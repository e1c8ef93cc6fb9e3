/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/seatunnel/workerd/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Database type constants
// 数据库类型常量
const (
	DatabaseTypeSQLite   = "sqlite"
	DatabaseTypeMySQL    = "mysql"
	DatabaseTypePostgres = "postgres"
)

// ErrUnsupportedDatabase indicates an unknown journal database type.
// ErrUnsupportedDatabase 表示不支持的数据库类型。
var ErrUnsupportedDatabase = errors.New("unsupported journal database type")

// Open connects to the journal database described by cfg. SQLite is used
// when no type is given. gorm's own log lines go to log.
// Open 根据配置连接日志数据库，未指定类型时使用 SQLite。
func Open(cfg config.JournalConfig, log *zap.Logger) (*gorm.DB, error) {
	dbType := cfg.Type
	if dbType == "" {
		dbType = DatabaseTypeSQLite
	}

	var dialector gorm.Dialector
	switch dbType {
	case DatabaseTypeSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = config.DefaultJournalPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		dialector = sqlite.Open(path)
	case DatabaseTypeMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case DatabaseTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s (must be sqlite, mysql, or postgres)", ErrUnsupportedDatabase, dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   NewGormLogger(log, cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s journal: %w", dbType, err)
	}

	if err := configureConnectionPool(db, cfg); err != nil {
		_ = Close(db)
		return nil, err
	}
	return db, nil
}

// configureConnectionPool applies the pool limits that are set.
// configureConnectionPool 配置数据库连接池
func configureConnectionPool(db *gorm.DB, cfg config.JournalConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying connection: %w", err)
	}

	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

