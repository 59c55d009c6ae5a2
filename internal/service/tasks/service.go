// Package tasks is the asynchronous execution substrate: a performer
// registry, a fixed-size worker pool, submission dedup by identity key,
// cooperative cancellation, and hierarchical progress reporting.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

// Performer executes one kind of task. Perform receives a root tracker
// with a single step covering the whole task; long performers derive
// children from it for granular reporting. Perform must honor ctx: a
// canceled context ends the execution as CANCELED.
type Performer interface {
	Name() string
	Perform(ctx context.Context, exec domain.TaskExecution, tracker *Tracker) (map[string]string, error)
}

type taskRepo interface {
	Create(ctx context.Context, exec *domain.TaskExecution) (*domain.TaskExecution, error)
	Update(ctx context.Context, exec *domain.TaskExecution) (*domain.TaskExecution, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error)
}

type publisher interface {
	Publish(ctx context.Context, ev eventbus.Event) error
}

type taskMetrics interface {
	ObserveTaskDuration(performer string, status domain.TaskStatus, d time.Duration)
}

var errQueueFull = errors.New("task queue is full")

type activeKey struct {
	performer   string
	identityKey string
}

type running struct {
	exec   *domain.TaskExecution
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the worker pool and the execution registry.
type Service struct {
	log     *slog.Logger
	repo    taskRepo
	bus     publisher
	metrics taskMetrics

	mu         sync.Mutex
	performers map[string]Performer
	active     map[activeKey]*running
	byID       map[uuid.UUID]*running

	queue   chan *running
	wg      sync.WaitGroup
	workers int
	started bool
}

// NewService creates the substrate. workers is the pool size, queueSize
// the submission backlog; both fall back to sane minimums.
func NewService(logger *slog.Logger, repo taskRepo, bus publisher, metrics taskMetrics, workers, queueSize int) *Service {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers * 16
	}
	return &Service{
		log:        logger,
		repo:       repo,
		bus:        bus,
		metrics:    metrics,
		performers: make(map[string]Performer),
		active:     make(map[activeKey]*running),
		byID:       make(map[uuid.UUID]*running),
		queue:      make(chan *running, queueSize),
		workers:    workers,
	}
}

// Register adds a performer. Registering two performers under one name is
// a programming error.
func (s *Service) Register(p Performer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.performers[p.Name()]; ok {
		panic(fmt.Sprintf("tasks: performer %q registered twice", p.Name()))
	}
	s.performers[p.Name()] = p
}

// Start launches the worker pool. ctx bounds the lifetime of every
// execution: canceling it drains the pool.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.log.Info("task workers started", slog.Int("workers", s.workers))
}

// Shutdown stops accepting queued work and waits for in-flight
// executions to finish.
func (s *Service) Shutdown() {
	close(s.queue)
	s.wg.Wait()
}

// SubmitAsync queues a task and returns its execution immediately. A
// descriptor with a non-empty identity key resubmitted while the previous
// execution is still queued or running returns that execution instead of
// creating a second one.
func (s *Service) SubmitAsync(ctx context.Context, desc domain.TaskDescriptor) (*domain.TaskExecution, error) {
	s.mu.Lock()
	_, ok := s.performers[desc.Performer]
	if !ok {
		s.mu.Unlock()
		return nil, domain.NewError(domain.KindUnknownTask, fmt.Sprintf("no performer named %q", desc.Performer))
	}

	key := activeKey{performer: desc.Performer, identityKey: desc.IdentityKey}
	if desc.IdentityKey != "" {
		if prev, ok := s.active[key]; ok {
			exec := *prev.exec
			s.mu.Unlock()
			return &exec, nil
		}
	}

	r := &running{
		exec: &domain.TaskExecution{
			ID:          uuid.New(),
			Performer:   desc.Performer,
			IdentityKey: desc.IdentityKey,
			Parameters:  desc.Parameters,
			Status:      domain.TaskSubmitted,
			SubmittedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	if desc.IdentityKey != "" {
		s.active[key] = r
	}
	s.byID[r.exec.ID] = r
	s.mu.Unlock()

	if _, err := s.repo.Create(ctx, r.exec); err != nil {
		s.release(r)
		return nil, fmt.Errorf("persist execution: %w", err)
	}
	s.publishLifecycle(ctx, r.exec, "")

	select {
	case s.queue <- r:
	default:
		// The SUBMITTED row is already persisted and announced; it must
		// still reach a terminal status, not linger forever.
		s.mu.Lock()
		s.finishLocked(r, domain.TaskError, nil, errQueueFull)
		exec := *r.exec
		s.mu.Unlock()
		if _, uerr := s.repo.Update(ctx, &exec); uerr != nil {
			s.log.Error("persist queue-full status", slog.Any("error", uerr))
		}
		s.publishLifecycle(ctx, &exec, errQueueFull.Error())
		s.release(r)
		return nil, domain.NewError(domain.KindUnknownTask, errQueueFull.Error())
	}

	exec := *r.exec
	return &exec, nil
}

// SubmitSync queues a task and blocks until it reaches a terminal status
// or ctx expires. The execution keeps running after a ctx timeout; only
// the wait is abandoned.
func (s *Service) SubmitSync(ctx context.Context, desc domain.TaskDescriptor) (*domain.TaskExecution, error) {
	exec, err := s.SubmitAsync(ctx, desc)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, exec.ID)
}

// Wait blocks until the execution terminates or ctx expires.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	s.mu.Lock()
	r, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return s.repo.GetByID(ctx, id)
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	exec := *r.exec
	s.mu.Unlock()
	return &exec, nil
}

// Cancel requests cooperative cancellation. A queued execution is
// canceled before its performer ever runs; a running one gets its context
// canceled and terminates as CANCELED once the performer returns.
// Canceling a terminal or unknown execution is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok || r.exec.IsTerminal() {
		s.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	if cancel == nil {
		// Not started yet: poison the entry so the worker skips it.
		r.cancel = func() {}
		s.finishLocked(r, domain.TaskCanceled, nil, context.Canceled)
		exec := *r.exec
		s.mu.Unlock()
		if _, err := s.repo.Update(ctx, &exec); err != nil {
			return fmt.Errorf("persist cancellation: %w", err)
		}
		s.publishLifecycle(ctx, &exec, context.Canceled.Error())
		return nil
	}
	s.mu.Unlock()

	cancel()
	return nil
}

// GetExecution returns the current view of an execution.
func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	s.mu.Lock()
	if r, ok := s.byID[id]; ok {
		exec := *r.exec
		s.mu.Unlock()
		return &exec, nil
	}
	s.mu.Unlock()
	return s.repo.GetByID(ctx, id)
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case r, ok := <-s.queue:
			if !ok {
				return
			}
			s.run(ctx, r)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) run(ctx context.Context, r *running) {
	s.mu.Lock()
	if r.exec.IsTerminal() {
		// Canceled while queued.
		s.mu.Unlock()
		s.release(r)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	now := time.Now().UTC()
	r.exec.Status = domain.TaskRunning
	r.exec.StartedAt = &now
	exec := *r.exec
	performer := s.performers[exec.Performer]
	s.mu.Unlock()
	defer cancel()

	if _, err := s.repo.Update(runCtx, &exec); err != nil {
		s.log.Error("persist running status", slog.Any("error", err))
	}
	s.publishLifecycle(ctx, &exec, "")

	tracker := NewTracker(1).OnChange(func(total float64) {
		_ = s.bus.Publish(ctx, eventbus.NewTaskProgress(eventbus.TaskProgress{
			ExecutionID: exec.ID,
			Performer:   exec.Performer,
			Progress:    total,
		}))
	})

	result, err := performer.Perform(runCtx, exec, tracker)

	status := domain.TaskFinished
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || runCtx.Err() != nil:
		status = domain.TaskCanceled
	default:
		status = domain.TaskError
	}

	s.mu.Lock()
	s.finishLocked(r, status, result, err)
	final := *r.exec
	s.mu.Unlock()

	if _, uerr := s.repo.Update(ctx, &final); uerr != nil {
		s.log.Error("persist terminal status", slog.Any("error", uerr))
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	s.publishLifecycle(ctx, &final, errText)

	if s.metrics != nil && final.StartedAt != nil && final.FinishedAt != nil {
		s.metrics.ObserveTaskDuration(final.Performer, final.Status, final.FinishedAt.Sub(*final.StartedAt))
	}
	if err != nil && status == domain.TaskError {
		s.log.Error("task failed",
			slog.String("performer", final.Performer),
			slog.String("execution_id", final.ID.String()),
			slog.Any("error", err),
		)
	}

	// The terminal row is persisted and published; evict the in-memory
	// entry so the registry does not grow with the process lifetime.
	// Later lookups fall through to the repository.
	s.release(r)
}

// finishLocked applies the terminal transition. Callers hold s.mu.
func (s *Service) finishLocked(r *running, status domain.TaskStatus, result map[string]string, err error) {
	now := time.Now().UTC()
	r.exec.Status = status
	r.exec.FinishedAt = &now
	switch status {
	case domain.TaskFinished:
		r.exec.Result = result
	case domain.TaskError:
		r.exec.Result = map[string]string{"error": err.Error()}
	}

	if r.exec.IdentityKey != "" {
		delete(s.active, activeKey{performer: r.exec.Performer, identityKey: r.exec.IdentityKey})
	}
	close(r.done)
}

func (s *Service) release(r *running) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.exec.IdentityKey != "" {
		delete(s.active, activeKey{performer: r.exec.Performer, identityKey: r.exec.IdentityKey})
	}
	delete(s.byID, r.exec.ID)
}

func (s *Service) publishLifecycle(ctx context.Context, exec *domain.TaskExecution, errText string) {
	_ = s.bus.Publish(ctx, eventbus.NewTaskLifecycle(eventbus.TaskLifecycle{
		ExecutionID: exec.ID,
		Performer:   exec.Performer,
		Status:      exec.Status,
		Error:       errText,
	}))
}
