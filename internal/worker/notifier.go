package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ndemidenko/boardflow/internal/model"
)

// Publisher is the slice of the broadcaster the notifier needs.
type Publisher interface {
	Publish(ev model.BoardEvent)
}

// Notifier scans for tasks whose due date has arrived and announces them on
// the event stream. Claims use FOR UPDATE SKIP LOCKED so several replicas
// can run the same loop without double-announcing a task. Events go out with
// no origin: reminders are server-initiated and must reach every subscriber.
type Notifier struct {
	pool     *pgxpool.Pool
	events   Publisher
	logger   *zap.Logger
	count    int
	interval time.Duration
	wg       sync.WaitGroup
	stop     chan struct{}
}

func NewNotifier(pool *pgxpool.Pool, events Publisher, logger *zap.Logger, count int, interval time.Duration) *Notifier {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Notifier{
		pool:     pool,
		events:   events,
		logger:   logger,
		count:    count,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (n *Notifier) Start(ctx context.Context) {
	n.logger.Info("starting due-date notifier", zap.Int("workers", n.count))

	for i := 0; i < n.count; i++ {
		n.wg.Add(1)
		go n.worker(ctx, i)
	}
}

func (n *Notifier) Stop() {
	close(n.stop)
	n.wg.Wait()
	n.logger.Info("due-date notifier stopped")
}

func (n *Notifier) worker(ctx context.Context, id int) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := n.notifyNext(ctx)
				if err == pgx.ErrNoRows {
					break
				}
				if err != nil {
					n.logger.Error("notifier error", zap.Int("worker", id), zap.Error(err))
					break
				}
			}
		}
	}
}

func (n *Notifier) notifyNext(ctx context.Context) error {
	var (
		taskID, projectID, teamID string
		stageID                   *string
	)
	// Claim and flag in one statement so a claimed task can never be
	// announced twice, even if publishing or the process dies right after.
	err := n.pool.QueryRow(ctx, `
		WITH due AS (
			SELECT id
			FROM tasks
			WHERE due_date IS NOT NULL
			  AND due_date <= now()
			  AND NOT due_notified
			  AND status <> 'closed'
			ORDER BY due_date
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tasks
		SET due_notified = true, updated_at = now()
		FROM due
		WHERE tasks.id = due.id
		RETURNING tasks.id, tasks.project_id, tasks.team_id, tasks.stage_id
	`).Scan(&taskID, &projectID, &teamID, &stageID)
	if err != nil {
		return err
	}

	n.events.Publish(model.BoardEvent{
		Action:    model.ActionTaskDue,
		ProjectID: projectID,
		TeamID:    &teamID,
		StageID:   stageID,
		TaskID:    &taskID,
		Timestamp: time.Now().UTC(),
	})
	return nil
}
