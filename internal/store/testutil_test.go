package store

import (
	"context"
	"errors"
	"testing"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// testDB opens a fresh in-memory sqlite database per test, auto-migrated
// with the three store-owned domain types. Postgres-only features (jsonb,
// uuid-ossp, row-locking "FOR UPDATE SKIP LOCKED") degrade gracefully under
// sqlite for single-connection test use; ClaimNextRunnable's correctness
// under real concurrent lockers is not exercised here.
func testDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	// Force a single connection: each new connection to ":memory:" is a
	// distinct, empty database, so a pooled second connection would see
	// none of the rows the first one wrote.
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.Project{}, &domain.Task{}, &domain.Agent{}); err != nil {
		tb.Fatalf("automigrate: %v", err)
	}
	return db
}

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	l, err := logger.New("test")
	if err != nil {
		tb.Fatalf("new logger: %v", err)
	}
	return l
}

func testCtx(db *gorm.DB) dbctx.Context {
	return dbctx.Context{Ctx: context.Background(), Tx: db}
}

func mustParseUUID(tb testing.TB, s string) uuid.UUID {
	tb.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		tb.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func isErr(err, target error) bool {
	return errors.Is(err, target)
}

func ptrUUID(v uuid.UUID) *uuid.UUID { return &v }
