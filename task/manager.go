package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"mediatranscoder/cache"
	"mediatranscoder/config"
	"mediatranscoder/logging"
	"mediatranscoder/storage"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// QueueCapacity is how many tasks may wait before Submit blocks.
const QueueCapacity = 100

var ErrEmptySource = errors.New("task: source cid is required")

// Acquirer brings a task's source media to a local path.
type Acquirer interface {
	Acquire(ctx context.Context, sourceCID string, encrypted bool) (string, error)
}

// Transcoder renders one format of a task and returns the reference under
// which the output was published.
type Transcoder interface {
	Transcode(ctx context.Context, job Job) (string, error)
}

type Manager struct {
	cfg        *config.Config
	taskQueue  chan *Task
	acquirer   Acquirer
	transcoder Transcoder
	progress   *Tracker
	results    *ResultStore
	startOnce  sync.Once
	logger     *slog.Logger
}

func NewManager(cfg *config.Config, acquirer Acquirer, transcoder Transcoder, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		taskQueue:  make(chan *Task, QueueCapacity),
		acquirer:   acquirer,
		transcoder: transcoder,
		progress:   NewTracker(),
		results:    NewResultStore(),
		logger:     logging.NewComponentLogger(logger, "task"),
	}
}

// Start launches the single worker. Later calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.logger.Info("task worker started", "queue_capacity", QueueCapacity)
		go m.workerLoop(ctx)
	})
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("task worker shutting down", "pending", len(m.taskQueue))
			return
		case t := <-m.taskQueue:
			m.processTask(ctx, t)
		}
	}
}

// Submit enqueues a task, blocking while the queue is full. If ctx ends
// first nothing is enqueued and the context error is returned.
func (m *Manager) Submit(ctx context.Context, req Request) (*Task, error) {
	if strings.TrimSpace(req.SourceCID) == "" {
		return nil, ErrEmptySource
	}
	t := &Task{
		ID:           uuid.NewString(),
		SourceCID:    req.SourceCID,
		MediaFormats: req.MediaFormats,
		Encrypted:    req.Encrypted,
		GPU:          req.GPU,
		CreatedAt:    time.Now(),
	}

	select {
	case m.taskQueue <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.logger.Info("task queued",
		"task_id", t.ID,
		"source_cid", t.SourceCID,
		"encrypted", t.Encrypted,
		"gpu", t.GPU,
	)
	return t, nil
}

// Query reports the stored result of taskID, or InProgressMessage while
// none exists. Tasks that were abandoned look the same as running ones.
// A task with a result always reports 100.
func (m *Manager) Query(taskID string) QueryResult {
	if metadata, ok := m.results.Get(taskID); ok {
		return QueryResult{Metadata: metadata, Progress: 100}
	}
	return QueryResult{Metadata: InProgressMessage, Progress: m.progress.Overall(taskID)}
}

// Pending is the number of queued tasks not yet picked up.
func (m *Manager) Pending() int {
	return len(m.taskQueue)
}

func (m *Manager) processTask(ctx context.Context, t *Task) {
	logger := m.logger.With("task_id", t.ID)
	start := time.Now()
	logger.Info("processing task", "source_cid", t.SourceCID)

	sourcePath, err := m.acquirer.Acquire(ctx, t.SourceCID, t.Encrypted)
	if err != nil {
		logger.Error("source acquisition failed, abandoning task", "error", err)
		return
	}

	rawFormats, err := m.loadFormats(t)
	if err != nil {
		logger.Error("media formats unusable, abandoning task", "error", err)
		return
	}
	m.progress.Init(t.ID, len(rawFormats))

	results := make([]map[string]any, 0, len(rawFormats))
	for i, raw := range rawFormats {
		if ctx.Err() != nil {
			logger.Warn("shutdown during format loop, abandoning task", "index", i)
			return
		}
		f, err := DecodeFormat(raw)
		if err != nil {
			logger.Warn("skipping format", "index", i, "error", err)
			continue
		}

		out := cache.OutputPath(m.cfg.TranscodedDir, sourcePath, f.ID, f.Ext)
		if cache.FileExists(out) {
			logger.Info("output already exists, skipping format", "index", i, "format_id", f.ID, "path", out)
			continue
		}

		ref, err := m.transcoder.Transcode(ctx, Job{
			TaskID:     t.ID,
			Index:      i,
			SourcePath: sourcePath,
			Format:     f,
			Encrypted:  t.Encrypted,
			GPU:        t.GPU,
		})
		if err != nil {
			logger.Error("transcode failed", "index", i, "format_id", f.ID, "error", err)
			continue
		}
		results = append(results, annotate(f, storage.SchemeFor(f.Dest)+ref))
		logger.Info("format done", "index", i, "format_id", f.ID, "ref", ref)
	}

	metadata, err := sonic.MarshalString(results)
	if err != nil {
		logger.Error("encoding results failed, abandoning task", "error", err)
		return
	}
	m.results.Put(t.ID, metadata)
	m.progress.SetAll(t.ID, 100)
	logger.Info("task finished",
		"formats", len(rawFormats),
		"results", len(results),
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

func (m *Manager) loadFormats(t *Task) ([]map[string]any, error) {
	data := []byte(t.MediaFormats)
	if strings.TrimSpace(t.MediaFormats) == "" {
		var err error
		data, err = os.ReadFile(m.cfg.MediaFormatsFile)
		if err != nil {
			return nil, fmt.Errorf("task: read default formats: %w", err)
		}
	}
	return ParseFormats(data)
}
