package tests

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB создает тестовую БД с помощью testcontainers
func SetupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filename))
	migrationsPath := filepath.Join(projectRoot, "migrations")

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.WithInitScripts(filepath.Join(migrationsPath, "001_init.up.sql")),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// TruncateTables очищает все таблицы
func TruncateTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `TRUNCATE projects, teams, users, project_members,
		team_members, boards, stages, backlogs, sprints, tasks, tags, task_tags,
		task_history, idempotency_keys CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// Workspace is the seeded project/team/board scaffolding most scenarios need.
type Workspace struct {
	ProjectID string
	TeamID    string
	BoardID   string
	StageID   string
	Stage2ID  string
	BacklogID string
	UserID    string
	Username  string
}

// SeedWorkspace создает базовые сущности для сценариев
func SeedWorkspace(t *testing.T, pool *pgxpool.Pool) Workspace {
	t.Helper()
	ctx := context.Background()
	ws := Workspace{
		ProjectID: uuid.NewString(),
		TeamID:    uuid.NewString(),
		BoardID:   uuid.NewString(),
		StageID:   uuid.NewString(),
		Stage2ID:  uuid.NewString(),
		BacklogID: uuid.NewString(),
		UserID:    uuid.NewString(),
	}
	// username уникален, чтобы сценарии могли сеять несколько workspace
	ws.Username = "marina-" + ws.UserID[:8]

	exec := func(sql string, args ...any) {
		if _, err := pool.Exec(ctx, sql, args...); err != nil {
			t.Fatalf("Failed to seed workspace: %v", err)
		}
	}

	exec("INSERT INTO projects (id, name, is_public) VALUES ($1, 'Apollo', true)", ws.ProjectID)
	exec("INSERT INTO teams (id, project_id, name) VALUES ($1, $2, 'Core')", ws.TeamID, ws.ProjectID)
	exec("INSERT INTO boards (id, name, project_id, team_id) VALUES ($1, 'Kanban', $2, $3)",
		ws.BoardID, ws.ProjectID, ws.TeamID)
	exec("INSERT INTO stages (id, name, board_id, position) VALUES ($1, 'To Do', $2, 0)", ws.StageID, ws.BoardID)
	exec("INSERT INTO stages (id, name, board_id, position) VALUES ($1, 'In Progress', $2, 1)", ws.Stage2ID, ws.BoardID)
	exec("INSERT INTO backlogs (id, name, project_id, team_id) VALUES ($1, 'Backlog', $2, $3)",
		ws.BacklogID, ws.ProjectID, ws.TeamID)
	exec("INSERT INTO users (id, username, display_name) VALUES ($1, $2, 'Marina K.')", ws.UserID, ws.Username)

	return ws
}

// WaitForCondition ждет выполнения условия с таймаутом
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
