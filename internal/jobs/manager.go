package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/progress"
	"github.com/JakeFAU/pagecapture/internal/store"
)

// ErrQueueFull is returned when no more jobs can be accepted right now.
var ErrQueueFull = errors.New("job queue is full")

const (
	defaultRetained      = 64
	defaultJournalBuffer = 256
)

// Item is one queued job.
type Item struct {
	JobID     string
	Source    string
	Pairs     []capture.URLPair
	Submitted time.Time
	Journal   *progress.Journal
}

// Queue buffers items between the Manager and the Dispatcher.
type Queue interface {
	TryEnqueue(item Item) error
	Dequeue(ctx context.Context) (Item, error)
}

// Submission is a parsed request to capture a URL list.
type Submission struct {
	// Source names where the pairs came from, typically the upload filename.
	Source string
	Pairs  []capture.URLPair
}

// Ticket acknowledges an accepted submission.
type Ticket struct {
	JobID   string
	Tasks   int
	Journal *progress.Journal
}

// ManagerConfig controls retention and task accounting.
type ManagerConfig struct {
	// Retained is how many journals are kept for late observers.
	Retained int
	// JournalBuffer sizes each observer channel.
	JournalBuffer int
	Viewports     []capture.Viewport
}

// Manager registers submissions and hands them to the queue.
type Manager struct {
	cfg    ManagerConfig
	ids    *IDSource
	jobs   store.JobStore
	queue  Queue
	clock  capture.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	journals map[string]*progress.Journal
	order    []string
}

// NewManager constructs a Manager.
func NewManager(
	cfg ManagerConfig,
	ids *IDSource,
	jobs store.JobStore,
	queue Queue,
	clock capture.Clock,
	logger *zap.Logger,
) *Manager {
	if cfg.Retained <= 0 {
		cfg.Retained = defaultRetained
	}
	if cfg.JournalBuffer <= 0 {
		cfg.JournalBuffer = defaultJournalBuffer
	}
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = capture.DefaultCatalog().Viewports()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		ids:      ids,
		jobs:     jobs,
		queue:    queue,
		clock:    clock,
		logger:   logger,
		journals: make(map[string]*progress.Journal),
	}
}

// Register records a queued job and creates its journal without queueing
// it. Callers that run the job themselves use the returned Item directly.
func (m *Manager) Register(ctx context.Context, sub Submission) (Item, error) {
	id := m.ids.Next()
	now := m.clock.Now().UTC()
	if err := m.jobs.CreateJob(ctx, store.JobRecord{
		ID:        id,
		Source:    sub.Source,
		State:     capture.StateQueued,
		Submitted: now,
	}); err != nil {
		return Item{}, fmt.Errorf("register job: %w", err)
	}
	return Item{
		JobID:     id,
		Source:    sub.Source,
		Pairs:     sub.Pairs,
		Submitted: now,
		Journal:   progress.NewJournal(id, m.cfg.JournalBuffer),
	}, nil
}

// Submit registers a job and enqueues it. It returns as soon as the job is
// accepted; capture happens in the background.
func (m *Manager) Submit(ctx context.Context, sub Submission) (Ticket, error) {
	item, err := m.Register(ctx, sub)
	if err != nil {
		return Ticket{}, err
	}
	if err := m.queue.TryEnqueue(item); err != nil {
		reason := fmt.Errorf("%w: %v", ErrQueueFull, err)
		if cerr := m.jobs.CompleteJob(ctx, item.JobID, item.Submitted, capture.StateAborted, "", reason.Error()); cerr != nil {
			m.logger.Warn("mark rejected job failed", zap.String("job_id", item.JobID), zap.Error(cerr))
		}
		return Ticket{}, reason
	}
	m.retain(item.Journal)
	m.logger.Info("job accepted",
		zap.String("job_id", item.JobID),
		zap.String("source", sub.Source),
		zap.Int("rows", len(sub.Pairs)),
	)
	return Ticket{
		JobID:   item.JobID,
		Tasks:   m.TaskCount(sub.Pairs),
		Journal: item.Journal,
	}, nil
}

// TaskCount reports how many captures pairs expand to.
func (m *Manager) TaskCount(pairs []capture.URLPair) int {
	return capture.TaskCount(pairs, m.cfg.Viewports)
}

// Journal returns the retained journal for id.
func (m *Manager) Journal(id string) (*progress.Journal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.journals[id]
	return j, ok
}

func (m *Manager) retain(j *progress.Journal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journals[j.JobID()] = j
	m.order = append(m.order, j.JobID())
	for len(m.order) > m.cfg.Retained {
		evict := m.order[0]
		m.order = m.order[1:]
		delete(m.journals, evict)
	}
}
