package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ndemidenko/boardflow/internal/model"
)

var (
	ErrorNotFound            = errors.New("not found")
	ErrorConflict            = errors.New("conflict")
	ErrorContainmentMismatch = errors.New("containment mismatch")
)

const taskColumns = `id, title, description, due_date, priority, estimate, status,
	project_id, team_id, stage_id, backlog_id, sprint_id, position, assignee_id,
	created_at, updated_at`

type TaskRepo struct { // Репозиторий для работы непосредственно с БД
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, title, description, due_date, priority, estimate, status,
			project_id, team_id, stage_id, backlog_id, sprint_id, position, assignee_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, t.DueDate, t.Priority, t.Estimate, t.Status,
		t.ProjectID, t.TeamID, t.Containment.StageID(), t.Containment.BacklogID(),
		t.SprintID, t.Position, t.AssigneeID,
	)
	return scanTask(row)
}

func (r *TaskRepo) Get(ctx context.Context, id string) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

// List applies the conjunctive filter plus the visibility rule: tasks are
// visible when their project is public, or when the caller is a direct
// project member or belongs to one of the project's teams. A nil caller sees
// public projects only.
func (r *TaskRepo) List(ctx context.Context, f model.TaskFilter, callerID *string) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.title, t.description, t.due_date, t.priority, t.estimate, t.status,
			t.project_id, t.team_id, t.stage_id, t.backlog_id, t.sprint_id, t.position,
			t.assignee_id, t.created_at, t.updated_at
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		WHERE ($1::uuid IS NULL OR t.project_id = $1)
		  AND ($2::uuid IS NULL OR t.team_id = $2)
		  AND ($3::uuid IS NULL OR t.stage_id = $3)
		  AND ($4::uuid IS NULL OR t.backlog_id = $4)
		  AND ($5::uuid IS NULL OR t.sprint_id = $5)
		  AND ($6::uuid IS NULL OR t.stage_id IN (SELECT id FROM stages WHERE board_id = $6))
		  AND (p.is_public OR ($7::uuid IS NOT NULL AND (
				EXISTS (SELECT 1 FROM project_members pm
					WHERE pm.project_id = t.project_id AND pm.user_id = $7)
				OR EXISTS (SELECT 1 FROM team_members tm
					JOIN teams te ON te.id = tm.team_id
					WHERE te.project_id = t.project_id AND tm.user_id = $7))))
		ORDER BY t.position, t.created_at, t.id
	`, f.ProjectID, f.TeamID, f.StageID, f.BacklogID, f.SprintID, f.BoardID, callerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) Update(ctx context.Context, t model.Task) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, due_date = $4, priority = $5, estimate = $6,
			status = $7, stage_id = $8, backlog_id = $9, sprint_id = $10,
			position = $11, assignee_id = $12, updated_at = now()
		WHERE id = $1
		RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, t.DueDate, t.Priority, t.Estimate, t.Status,
		t.Containment.StageID(), t.Containment.BacklogID(), t.SprintID,
		t.Position, t.AssigneeID,
	)
	return scanTask(row)
}

func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

// NextPosition is the append slot: max+1 within the container, 0 when empty.
// IS NOT DISTINCT FROM makes one query cover all three scopes (stage,
// backlog, unplaced-within-project+team).
func (r *TaskRepo) NextPosition(ctx context.Context, c model.Containment, projectID, teamID string) (int, error) {
	var pos int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0)
		FROM tasks
		WHERE project_id = $1 AND team_id = $2
		  AND stage_id IS NOT DISTINCT FROM $3
		  AND backlog_id IS NOT DISTINCT FROM $4
	`, projectID, teamID, c.StageID(), c.BacklogID()).Scan(&pos)
	return pos, err
}

// Reorder assigns position = index for every listed task that actually lives
// in the container. One batched statement, so a concurrent list query never
// observes a half-reordered board. Ids outside the container are ignored:
// reorder requests come from client-side drag state that may be stale.
func (r *TaskRepo) Reorder(ctx context.Context, c model.Containment, projectID, teamID string, taskIDs []string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks AS t
		SET position = u.pos, updated_at = now()
		FROM (SELECT unnest($1::uuid[]) AS id,
			generate_subscripts($1::uuid[], 1) - 1 AS pos) AS u
		WHERE t.id = u.id
		  AND t.project_id = $2 AND t.team_id = $3
		  AND t.stage_id IS NOT DISTINCT FROM $4
		  AND t.backlog_id IS NOT DISTINCT FROM $5
	`, taskIDs, projectID, teamID, c.StageID(), c.BacklogID())
	return err
}

func (r *TaskRepo) SaveIdempotencyKey(ctx context.Context, key string, taskID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, task_id) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, taskID)
	return err
}

func (r *TaskRepo) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT task_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&id)

	if err == pgx.ErrNoRows {
		return "", ErrorNotFound
	}
	return id, err
}

func scanTask(row pgx.Row) (model.Task, error) {
	var (
		t                  model.Task
		stageID, backlogID *string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.DueDate, &t.Priority, &t.Estimate, &t.Status,
		&t.ProjectID, &t.TeamID, &stageID, &backlogID, &t.SprintID, &t.Position,
		&t.AssigneeID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, mapError(err)
	}
	t.Containment = model.ContainmentFromColumns(stageID, backlogID)
	return t, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if err == pgx.ErrNoRows {
		return ErrorNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrorConflict
		case "23503": // foreign_key_violation: container vanished mid-flight
			return ErrorNotFound
		case "23514": // check_violation
			return ErrorConflict
		}
	}
	return err
}
