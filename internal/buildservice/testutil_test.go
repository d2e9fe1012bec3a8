package buildservice

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/agentforge/buildpipeline/internal/artifact"
	"github.com/agentforge/buildpipeline/internal/dashboard"
	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/dbctx"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
	"github.com/agentforge/buildpipeline/internal/queue"
	"github.com/agentforge/buildpipeline/internal/stageregistry"
	"github.com/agentforge/buildpipeline/internal/store"
)

func newTestService(tb testing.TB) *Service {
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

	l, err := logger.New("test")
	if err != nil {
		tb.Fatalf("new logger: %v", err)
	}

	projects := store.NewProjectRepo(db, l)
	tasks := store.NewTaskRepo(db, l)
	q := queue.New(tasks, l)
	layout := artifact.NewLayout(tb.TempDir())
	dash := dashboard.New(projects, tasks, layout)
	return New(projects, q, dash, stageregistry.DefaultCatalog(), l)
}

func testDbc(ctx context.Context) dbctx.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return dbctx.Context{Ctx: ctx}
}
