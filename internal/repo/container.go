package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ndemidenko/boardflow/internal/model"
)

// Resolver validates containment: a stage, backlog or sprint may only host
// tasks of the project/team it belongs to. Every create/update that changes
// containment goes through here first.
type Resolver struct {
	pool *pgxpool.Pool
}

func NewResolver(pool *pgxpool.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Stage resolves the stage through its board and checks the board's
// project/team against the task's. Returns the stage so callers can reuse
// the name for history snapshots without a second query.
func (r *Resolver) Stage(ctx context.Context, stageID, projectID, teamID string) (model.Stage, error) {
	var (
		s                      model.Stage
		boardProject, boardTeam string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT s.id, s.name, s.position, s.board_id, s.created_at, b.project_id, b.team_id
		FROM stages s
		JOIN boards b ON b.id = s.board_id
		WHERE s.id = $1
	`, stageID).Scan(&s.ID, &s.Name, &s.Position, &s.BoardID, &s.CreatedAt, &boardProject, &boardTeam)
	if err == pgx.ErrNoRows {
		return s, fmt.Errorf("%w: stage %s", ErrorNotFound, stageID)
	}
	if err != nil {
		return s, err
	}
	if boardProject != projectID || boardTeam != teamID {
		return s, fmt.Errorf("%w: stage %s does not belong to project %s / team %s",
			ErrorContainmentMismatch, stageID, projectID, teamID)
	}
	return s, nil
}

func (r *Resolver) Backlog(ctx context.Context, backlogID, projectID, teamID string) error {
	return r.checkOwner(ctx, "backlogs", "backlog", backlogID, projectID, teamID)
}

func (r *Resolver) Sprint(ctx context.Context, sprintID, projectID, teamID string) error {
	return r.checkOwner(ctx, "sprints", "sprint", sprintID, projectID, teamID)
}

// Team checks that the team itself belongs to the project.
func (r *Resolver) Team(ctx context.Context, teamID, projectID string) error {
	var owner string
	err := r.pool.QueryRow(ctx,
		"SELECT project_id FROM teams WHERE id = $1", teamID).Scan(&owner)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: team %s", ErrorNotFound, teamID)
	}
	if err != nil {
		return err
	}
	if owner != projectID {
		return fmt.Errorf("%w: team %s does not belong to project %s",
			ErrorContainmentMismatch, teamID, projectID)
	}
	return nil
}

func (r *Resolver) checkOwner(ctx context.Context, table, kind, id, projectID, teamID string) error {
	var ownerProject, ownerTeam string
	// table внутри пакета, не из пользовательского ввода
	err := r.pool.QueryRow(ctx,
		"SELECT project_id, team_id FROM "+table+" WHERE id = $1", id).Scan(&ownerProject, &ownerTeam)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: %s %s", ErrorNotFound, kind, id)
	}
	if err != nil {
		return err
	}
	if ownerProject != projectID || ownerTeam != teamID {
		return fmt.Errorf("%w: %s %s does not belong to project %s / team %s",
			ErrorContainmentMismatch, kind, id, projectID, teamID)
	}
	return nil
}
