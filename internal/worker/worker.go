package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Matheus2505060/multpost-ai/internal/models"
)

// Processor is the part of the publisher the worker drives.
type Processor interface {
	GetPendingJobs(ctx context.Context) ([]*models.Job, error)
	ProcessJob(ctx context.Context, jobID string) (bool, error)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

type Status struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
}

// Worker polls for due jobs and hands them to the processor in bounded batches.
type Worker struct {
	processor Processor
	cfg       Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(processor Processor, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}

	done := make(chan struct{})
	close(done)
	return &Worker{processor: processor, cfg: cfg, done: done}
}

// Start runs one pass immediately and then one every interval until Stop.
// After a Stop, the first pass waits for the previous loop to exit.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		slog.Info("worker already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	previous := w.done
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx, previous, w.done)

	slog.Info("worker started", "interval", w.cfg.Interval, "batch_size", w.cfg.BatchSize)
}

func (w *Worker) loop(ctx context.Context, previous <-chan struct{}, done chan struct{}) {
	defer close(done)

	// done closes only after previous, so loops never overlap
	<-previous
	if ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.RunPass(ctx)

		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop stops scheduling new passes. Jobs already dispatched run to completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.cancel()
}

// Done is closed once the polling loop, and any loop it replaced, has exited.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Worker) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{Running: w.running, Interval: w.cfg.Interval}
}

// RunPass processes every pending job once. Batches of BatchSize jobs run
// concurrently, with BatchPause between batches.
func (w *Worker) RunPass(ctx context.Context) {
	jobs, err := w.processor.GetPendingJobs(ctx)
	if err != nil {
		slog.Error("unable to load pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	slog.Info("processing pending jobs", "count", len(jobs))

	// cancelling ctx stops the pass between batches, not the jobs in flight
	jobCtx := context.WithoutCancel(ctx)

	for start := 0; start < len(jobs); start += w.cfg.BatchSize {
		if start > 0 && !w.pause(ctx) {
			return
		}

		end := min(start+w.cfg.BatchSize, len(jobs))

		var wg sync.WaitGroup
		for _, job := range jobs[start:end] {
			wg.Add(1)
			go func(job *models.Job) {
				defer wg.Done()
				w.process(jobCtx, job)
			}(job)
		}
		wg.Wait()
	}
}

func (w *Worker) pause(ctx context.Context) bool {
	if w.cfg.BatchPause == 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(w.cfg.BatchPause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing job", "job_id", job.ID, "panic", r)
		}
	}()

	ok, err := w.processor.ProcessJob(ctx, job.ID)
	if err != nil {
		slog.Error("unable to process job", "job_id", job.ID, "platform", job.Platform, "error", err)
		return
	}
	if !ok {
		slog.Debug("job not published in this pass", "job_id", job.ID, "platform", job.Platform)
	}
}
