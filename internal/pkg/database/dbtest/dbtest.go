// Package dbtest opens the MySQL test database for repository tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/Taskly/internal/pkg/database"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenForTest connects to the MySQL instance named by TEST_DB_* (falling
// back to DB_*), migrates the schema and truncates the engine's tables. The
// test is skipped when no database is reachable.
func OpenForTest(t testing.TB) *gorm.DB {
	t.Helper()

	get := func(key, def string) string {
		return env.GetEnv("TEST_"+key, env.GetEnv(key, def))
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=2s",
		get("DB_USER", "root"),
		get("DB_PASSWORD", ""),
		get("DB_HOST", "127.0.0.1"),
		get("DB_PORT", "3306"),
		get("DB_NAME", "taskly_test"),
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err == nil {
		var sqlErr error
		if sqlDB, e := db.DB(); e == nil {
			sqlErr = sqlDB.Ping()
		} else {
			sqlErr = e
		}
		err = sqlErr
	}
	if err != nil {
		t.Skipf("Skipping MySQL-dependent test: no reachable database (%v)", err)
		return nil
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	for _, table := range []string{
		"reminders", "tasks", "events", "payment_records", "usage_windows",
		"subscriptions", "plans", "settings", "billing_webhook_events", "users",
	} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("failed to clean table %s: %v", table, err)
		}
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
