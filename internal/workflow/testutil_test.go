package workflow

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

func testDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
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
