package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/techmannih/helpdesk/internal/ai"
	"github.com/techmannih/helpdesk/internal/autoclose"
	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/notify"
	"github.com/techmannih/helpdesk/internal/resolution"
	"github.com/techmannih/helpdesk/internal/workflow"
)

// Deps are the services the workers run against.
type Deps struct {
	Store      *conversation.PgStore
	Workflows  *workflow.PgStore
	Sweeper    *autoclose.Sweeper
	Detector   *resolution.Detector
	Executor   *bulk.Executor
	Engine     *workflow.Engine
	Runner     *workflow.Runner
	Classifier *ai.Classifier
	Notifier   *notify.Notifier
	// Embedder may be nil; the refresh job then no-ops.
	Embedder Embedder

	Model      string
	MaxWorkers int
}

// Queue owns the River client and the dispatcher built on it.
type Queue struct {
	client     *river.Client[pgx.Tx]
	dispatcher *Dispatcher
}

// NewQueue registers all workers, the hourly sweep and the queue
// configuration, binds the dispatcher to the client, and returns the
// ready-to-start queue.
func NewQueue(pool *pgxpool.Pool, dispatcher *Dispatcher, deps Deps) (*Queue, error) {
	if deps.MaxWorkers <= 0 {
		deps.MaxWorkers = 10
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SweepWorker{sweeper: deps.Sweeper})
	river.AddWorker(workers, &SweepMailboxWorker{sweeper: deps.Sweeper})
	river.AddWorker(workers, &CheckResolutionWorker{detector: deps.Detector})
	river.AddWorker(workers, &BulkUpdateWorker{store: deps.Store, executor: deps.Executor})
	river.AddWorker(workers, &RunWorkflowsWorker{
		store:      deps.Store,
		workflows:  deps.Workflows,
		engine:     deps.Engine,
		runner:     deps.Runner,
		dispatcher: dispatcher,
	})
	river.AddWorker(workers, &AutoResponseWorker{
		store:      deps.Store,
		classifier: deps.Classifier,
		model:      deps.Model,
		dispatcher: dispatcher,
	})
	river.AddWorker(workers, &EmbeddingRefreshWorker{embedder: deps.Embedder})
	river.AddWorker(workers, &AssigneeNotificationWorker{notifier: deps.Notifier})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: deps.MaxWorkers},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue client: %w", err)
	}
	dispatcher.client = client

	return &Queue{client: client, dispatcher: dispatcher}, nil
}

// Dispatcher returns the enqueue side of the queue.
func (q *Queue) Dispatcher() *Dispatcher {
	return q.dispatcher
}

// Start begins processing jobs.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop drains workers and shuts the client down.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}
