package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ndemidenko/boardflow/internal/model"
)

type StageRepo struct {
	pool *pgxpool.Pool
}

func NewStageRepo(pool *pgxpool.Pool) *StageRepo {
	return &StageRepo{pool: pool}
}

func (r *StageRepo) Create(ctx context.Context, s model.Stage) (model.Stage, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO stages (id, name, board_id, position)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM stages WHERE board_id = $3))
		RETURNING position, created_at
	`, s.ID, s.Name, s.BoardID).Scan(&s.Position, &s.CreatedAt)
	return s, mapError(err)
}

func (r *StageRepo) Get(ctx context.Context, id string) (model.Stage, error) {
	var s model.Stage
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, position, board_id, created_at FROM stages WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Position, &s.BoardID, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return s, ErrorNotFound
	}
	return s, err
}

func (r *StageRepo) BoardByID(ctx context.Context, id string) (model.Board, error) {
	var b model.Board
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, project_id, team_id, created_at FROM boards WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.ProjectID, &b.TeamID, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return b, ErrorNotFound
	}
	return b, err
}

func (r *StageRepo) Rename(ctx context.Context, id, name string) (model.Stage, error) {
	var s model.Stage
	err := r.pool.QueryRow(ctx, `
		UPDATE stages SET name = $2 WHERE id = $1
		RETURNING id, name, position, board_id, created_at
	`, id, name).Scan(&s.ID, &s.Name, &s.Position, &s.BoardID, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return s, ErrorNotFound
	}
	return s, err
}

// Reorder mirrors the task reorder: dense 0-based positions, one statement,
// stale ids ignored.
func (r *StageRepo) Reorder(ctx context.Context, boardID string, stageIDs []string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stages AS s
		SET position = u.pos
		FROM (SELECT unnest($1::uuid[]) AS id,
			generate_subscripts($1::uuid[], 1) - 1 AS pos) AS u
		WHERE s.id = u.id AND s.board_id = $2
	`, stageIDs, boardID)
	return err
}

// DeleteDetachingTasks removes a stage and reparents its tasks to the
// unplaced scope of their project/team, appended after the current maximum
// position in prior order. Runs in one transaction so no reader ever sees
// tasks pointing at a dead stage.
func (r *StageRepo) DeleteDetachingTasks(ctx context.Context, id string) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var projectID, teamID string
	err = tx.QueryRow(ctx, `
		SELECT b.project_id, b.team_id
		FROM stages s JOIN boards b ON b.id = s.board_id
		WHERE s.id = $1
	`, id).Scan(&projectID, &teamID)
	if err == pgx.ErrNoRows {
		return nil, ErrorNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE tasks AS t
		SET stage_id = NULL,
			position = base.p + o.rn - 1,
			updated_at = now()
		FROM (SELECT id, row_number() OVER (ORDER BY position, id) AS rn
			FROM tasks WHERE stage_id = $1) o,
			(SELECT COALESCE(MAX(position) + 1, 0) AS p
			FROM tasks
			WHERE project_id = $2 AND team_id = $3
			  AND stage_id IS NULL AND backlog_id IS NULL) base
		WHERE t.id = o.id
		RETURNING t.id
	`, id, projectID, teamID)
	if err != nil {
		return nil, err
	}
	var detached []string
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			rows.Close()
			return nil, err
		}
		detached = append(detached, taskID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM stages WHERE id = $1", id); err != nil {
		return nil, err
	}
	return detached, tx.Commit(ctx)
}
