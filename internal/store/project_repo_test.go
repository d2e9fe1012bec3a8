package store

import (
	"testing"

	"github.com/agentforge/buildpipeline/internal/domain"
	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
	"github.com/google/uuid"
)

func TestProjectRepoCreateGet(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	p := &domain.Project{
		ID:          uuid.New(),
		ProjectName: "invoice-bot",
		Requirement: "parse invoices and post totals to slack",
		UserID:      "user-1",
		Priority:    3,
		Status:      domain.ProjectPending,
	}
	if err := repo.Create(dbc, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID.String() == "" {
		t.Fatalf("expected generated id")
	}

	got, err := repo.Get(dbc, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProjectName != "invoice-bot" {
		t.Fatalf("project_name = %q", got.ProjectName)
	}
	if got.Version != 1 {
		t.Fatalf("version = %d, want 1", got.Version)
	}

	byName, err := repo.GetByName(dbc, "invoice-bot")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if byName.ID != p.ID {
		t.Fatalf("get by name returned %s, want %s", byName.ID, p.ID)
	}
}

func TestProjectRepoCreateDuplicateName(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	first := &domain.Project{ID: uuid.New(), ProjectName: "dup", Requirement: "r", Status: domain.ProjectPending}
	if err := repo.Create(dbc, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := &domain.Project{ID: uuid.New(), ProjectName: "dup", Requirement: "r2", Status: domain.ProjectPending}
	if err := repo.Create(dbc, second); err == nil {
		t.Fatalf("expected duplicate name to fail")
	}
}

func TestProjectRepoGetNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	if _, err := repo.Get(dbc, mustParseUUID(t, "00000000-0000-0000-0000-000000000001")); err == nil {
		t.Fatalf("expected not found error")
	} else if !isErr(err, ferrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectRepoUpdateCAS(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	p := &domain.Project{ID: uuid.New(), ProjectName: "cas", Requirement: "r", Status: domain.ProjectPending}
	if err := repo.Create(dbc, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := repo.Update(dbc, p.ID, func(p *domain.Project) error {
		p.Status = domain.ProjectQueued
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}
	if updated.Status != domain.ProjectQueued {
		t.Fatalf("status = %s, want queued", updated.Status)
	}

	// simulate a lost race: mutate again from the stale in-memory copy
	// after another writer already bumped the row's version.
	stale := *p // value copy, Version still 1
	_, err = repo.Update(dbc, stale.ID, func(p *domain.Project) error {
		*p = stale
		p.Status = domain.ProjectFailed
		return nil
	})
	if err == nil {
		t.Fatalf("expected conflict on stale version")
	}
	if !isErr(err, ferrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestProjectRepoUpdateNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	_, err := repo.Update(dbc, mustParseUUID(t, "00000000-0000-0000-0000-000000000002"), func(p *domain.Project) error {
		return nil
	})
	if !isErr(err, ferrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectRepoListPagination(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	for i := 0; i < 5; i++ {
		p := &domain.Project{
			ID:          uuid.New(),
			ProjectName: "proj-" + string(rune('a'+i)),
			Requirement: "r",
			UserID:      "user-1",
			Status:      domain.ProjectPending,
		}
		if err := repo.Create(dbc, p); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	var collected []string
	lastKey := ""
	for {
		page, err := repo.List(dbc, ProjectFilter{UserID: "user-1"}, lastKey, 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(page.Items) == 0 {
			break
		}
		for _, it := range page.Items {
			collected = append(collected, it.ProjectName)
		}
		lastKey = page.LastKey
		if len(page.Items) < 2 {
			break
		}
	}
	if len(collected) != 5 {
		t.Fatalf("collected %d projects across pages, want 5", len(collected))
	}
}

func TestProjectRepoListFiltersByStatus(t *testing.T) {
	db := testDB(t)
	repo := NewProjectRepo(db, testLogger(t))
	dbc := testCtx(db)

	pending := &domain.Project{ID: uuid.New(), ProjectName: "p1", Requirement: "r", Status: domain.ProjectPending}
	building := &domain.Project{ID: uuid.New(), ProjectName: "p2", Requirement: "r", Status: domain.ProjectBuilding}
	if err := repo.Create(dbc, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if err := repo.Create(dbc, building); err != nil {
		t.Fatalf("create building: %v", err)
	}

	status := domain.ProjectBuilding
	page, err := repo.List(dbc, ProjectFilter{Status: &status}, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != building.ID {
		t.Fatalf("expected only the building project, got %d items", len(page.Items))
	}
}

func TestProjectRepoDeleteCascade(t *testing.T) {
	db := testDB(t)
	projects := NewProjectRepo(db, testLogger(t))
	tasks := NewTaskRepo(db, testLogger(t))
	agents := NewAgentRepo(db, testLogger(t))
	dbc := testCtx(db)

	p := &domain.Project{ID: uuid.New(), ProjectName: "cascade", Requirement: "r", Status: domain.ProjectPending}
	if err := projects.Create(dbc, p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	task := &domain.Task{ID: uuid.New(), TaskType: domain.TaskBuildAgent, ProjectID: &p.ID, Status: domain.TaskQueued}
	if err := tasks.Create(dbc, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent := &domain.Agent{ID: p.ID.String() + ":worker", ProjectID: p.ID, AgentName: "worker", DeploymentType: domain.DeploymentLocal, Status: domain.AgentOffline}
	if err := agents.Create(dbc, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	if err := projects.DeleteCascade(dbc, p.ID); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}
	if _, err := projects.Get(dbc, p.ID); !isErr(err, ferrors.ErrNotFound) {
		t.Fatalf("expected project gone, got %v", err)
	}
	if _, err := tasks.Get(dbc, task.ID); !isErr(err, ferrors.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	remaining, err := agents.ListByProject(dbc, p.ID)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no agents left, got %d", len(remaining))
	}

	// deleting an already-gone project is not an error
	if err := projects.DeleteCascade(dbc, p.ID); err != nil {
		t.Fatalf("second delete cascade: %v", err)
	}
}
