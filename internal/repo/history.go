package repo

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ndemidenko/boardflow/internal/model"
)

// HistoryRepo appends audit rows. There is deliberately no update or delete.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) Append(ctx context.Context, ev model.HistoryEvent) (model.HistoryEvent, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return ev, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO task_history (id, task_id, project_id, team_id, actor_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, ev.ID, ev.TaskID, ev.ProjectID, ev.TeamID, ev.ActorID, ev.Type, payload).Scan(&ev.CreatedAt)
	return ev, mapError(err)
}

// ListByTask returns events newest first. The limit is already clamped by
// the service.
func (r *HistoryRepo) ListByTask(ctx context.Context, taskID string, limit int) ([]model.HistoryEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, project_id, team_id, actor_id, event_type, payload, created_at
		FROM task_history
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.HistoryEvent, 0, limit)
	for rows.Next() {
		var (
			ev      model.HistoryEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.ProjectID, &ev.TeamID,
			&ev.ActorID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
