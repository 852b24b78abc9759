package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ndemidenko/boardflow/internal/model"
)

// Lookup serves the read-only display-data queries the core hydrates
// snapshots from: users, stages, tags.
type Lookup struct {
	pool *pgxpool.Pool
}

func NewLookup(pool *pgxpool.Pool) *Lookup {
	return &Lookup{pool: pool}
}

func (l *Lookup) UserByID(ctx context.Context, id string) (model.UserSnapshot, error) {
	var u model.UserSnapshot
	err := l.pool.QueryRow(ctx, `
		SELECT id, username, COALESCE(display_name, '') FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.DisplayName)
	if err == pgx.ErrNoRows {
		return u, ErrorNotFound
	}
	return u, err
}

// UsersByIDs is the batched variant used by the history read path: one query
// for all actors of a page.
func (l *Lookup) UsersByIDs(ctx context.Context, ids []string) (map[string]model.UserSnapshot, error) {
	users := make(map[string]model.UserSnapshot, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, username, COALESCE(display_name, '')
		FROM users WHERE id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u model.UserSnapshot
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName); err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	return users, rows.Err()
}

func (l *Lookup) StageByID(ctx context.Context, id string) (model.Stage, error) {
	var s model.Stage
	err := l.pool.QueryRow(ctx, `
		SELECT id, name, position, board_id, created_at FROM stages WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Position, &s.BoardID, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return s, ErrorNotFound
	}
	return s, err
}

func (l *Lookup) TagsForTask(ctx context.Context, taskID string) ([]model.Tag, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT tg.id, tg.name, COALESCE(tg.color, '')
		FROM tags tg
		JOIN task_tags tt ON tt.tag_id = tg.id
		WHERE tt.task_id = $1
		ORDER BY tg.name
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var tg model.Tag
		if err := rows.Scan(&tg.ID, &tg.Name, &tg.Color); err != nil {
			return nil, err
		}
		tags = append(tags, tg)
	}
	return tags, rows.Err()
}
