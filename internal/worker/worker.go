// Package worker runs the harvester service: it consumes planned job ids
// from RabbitMQ and executes each harvest with the engine, one run per
// service at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isamplesorg/igsn-lib/internal/harvest"
	"github.com/isamplesorg/igsn-lib/internal/store"
	"github.com/isamplesorg/igsn-lib/shared/rabbitmq"
)

// JobRunner executes one harvest job. Satisfied by *harvest.Engine.
type JobRunner interface {
	Execute(ctx context.Context, job *store.Job, resume bool) (harvest.Result, error)
}

// JobStore fetches jobs queued for execution.
type JobStore interface {
	GetJob(ctx context.Context, id int64) (*store.Job, error)
}

// jobMessage pairs a queued job id with its delivery tag for ack/nack.
type jobMessage struct {
	JobID       int64
	DeliveryTag uint64
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        JobStore
	Runner       JobRunner
	Concurrency  int
	JobTimeout   time.Duration
}

// Worker represents the harvester worker
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        JobStore
	runner       JobRunner
	concurrency  int
	jobTimeout   time.Duration
	workerID     string

	jobsChan chan *jobMessage
	stopChan chan struct{}
	wg       sync.WaitGroup

	// busy tracks services with a harvest in flight. Two engines running the
	// same service would race the watermark.
	mu   sync.Mutex
	busy map[int64]bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		store:        cfg.Store,
		runner:       cfg.Runner,
		concurrency:  concurrency,
		jobTimeout:   cfg.JobTimeout,
		workerID:     fmt.Sprintf("harvester-%s", uuid.New().String()[:8]),
		jobsChan:     make(chan *jobMessage),
		stopChan:     make(chan struct{}),
		busy:         map[int64]bool{},
	}
}

// Start begins consuming and executing harvest jobs. It blocks until ctx is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting harvester worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker, waiting for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping harvester worker", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Harvester worker stopped")
}

// acquireService marks a service busy for the duration of one job run.
func (w *Worker) acquireService(serviceID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy[serviceID] {
		return false
	}
	w.busy[serviceID] = true
	return true
}

func (w *Worker) releaseService(serviceID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.busy, serviceID)
}
