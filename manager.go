package vidgrab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mohaanymo/vidgrab/internal/discovery"
	"github.com/mohaanymo/vidgrab/internal/models"
)

// TaskState represents the current state of a download task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskDiscovering
	TaskResolving
	TaskDownloading
	TaskMuxing
	TaskCompleted
	TaskFailed
	TaskCanceled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskDiscovering:
		return "discovering"
	case TaskResolving:
		return "resolving"
	case TaskDownloading:
		return "downloading"
	case TaskMuxing:
		return "muxing"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Active reports whether a task in this state is being worked on.
func (s TaskState) Active() bool {
	return s == TaskDiscovering || s == TaskResolving || s == TaskDownloading || s == TaskMuxing
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// ErrTaskCanceled is returned by WaitForTask for canceled tasks.
var ErrTaskCanceled = errors.New("task canceled")

// Task represents a download task in the queue. Fields are guarded by the
// task's lock; use Snapshot from other goroutines.
type Task struct {
	ID          string
	URL         string
	Options     []Option
	State       TaskState
	Error       error
	Attempts    int
	Progress    TaskProgress
	Result      *Result
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Internal
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.RWMutex
}

// TaskProgress holds progress information for a task.
type TaskProgress struct {
	Resolution        string
	TotalSegments     int
	CompletedSegments int
	DownloadedBytes   int64
	Speed             float64 // bytes per second
	ETA               time.Duration
	CurrentTrack      string
}

// Percent returns the download progress as a percentage.
func (p TaskProgress) Percent() float64 {
	if p.TotalSegments == 0 {
		return 0
	}
	return float64(p.CompletedSegments) / float64(p.TotalSegments) * 100
}

// TaskInfo is a point-in-time copy of a Task.
type TaskInfo struct {
	ID          string
	URL         string
	State       TaskState
	Error       error
	Attempts    int
	Progress    TaskProgress
	Result      *Result
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Snapshot returns a consistent copy of the task's fields.
func (t *Task) Snapshot() TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskInfo{
		ID:          t.ID,
		URL:         t.URL,
		State:       t.State,
		Error:       t.Error,
		Attempts:    t.Attempts,
		Progress:    t.Progress,
		Result:      t.Result,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Manager handles queued downloads with concurrency control. Each task
// runs independently; a failure only affects its own task.
type Manager struct {
	maxConcurrent int
	retries       int
	retryDelay    time.Duration
	tasks         sync.Map // map[string]*Task
	taskOrder     []string
	orderMu       sync.RWMutex

	queue   chan *Task
	active  atomic.Int32
	pending sync.WaitGroup
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	logger  *log.Logger

	// Shared by every task unless an option overrides it.
	browser *discovery.Browser

	// Callbacks
	onStateChange func(task *Task)
	onProgress    func(task *Task)
	onComplete    func(task *Task)
	onError       func(task *Task, err error)

	// Default options applied to all tasks
	defaultOptions []Option

	mu sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithMaxConcurrent sets the maximum number of concurrent downloads.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		if n > 20 {
			n = 20
		}
		m.maxConcurrent = n
	}
}

// WithDefaultOptions sets default options applied to all tasks.
func WithDefaultOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.defaultOptions = opts
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithOnStateChange sets a callback for task state changes.
func WithOnStateChange(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onStateChange = fn
	}
}

// WithOnProgress sets a callback for progress updates.
func WithOnProgress(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// WithOnComplete sets a callback for task completion.
func WithOnComplete(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onComplete = fn
	}
}

// WithOnError sets a callback for task errors.
func WithOnError(fn func(task *Task, err error)) ManagerOption {
	return func(m *Manager) {
		m.onError = fn
	}
}

// NewManager creates a new download manager.
func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		maxConcurrent: 3,
		queue:         make(chan *Task, 1000),
		ctx:           ctx,
		cancel:        cancel,
		logger:        log.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	// Retries come from the default options (WithRetries). Invalid or
	// unsupported input is never retried.
	probe := buildOptions(m.defaultOptions)
	if err := probe.cfg.Validate(); err == nil {
		m.retries = probe.cfg.RetryAttempts
		m.retryDelay = probe.cfg.RetryDelay
	}

	// One browser serves every task.
	if probe.discoverer == nil {
		m.browser = discovery.NewBrowser(
			discovery.WithExecPath(probe.cfg.ChromePath),
			discovery.WithHeadful(probe.cfg.Headful),
			discovery.WithDefaultTimeout(probe.cfg.DiscoveryTimeout),
			discovery.WithLogger(m.logger),
		)
	}

	return m
}

// Start begins processing the download queue.
func (m *Manager) Start() {
	if m.running.Swap(true) {
		return // Already running
	}

	for i := 0; i < m.maxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels active downloads, waits for the workers and shuts the
// shared browser down.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running.Swap(false) {
		m.mu.Unlock()
		return // Not running
	}
	close(m.queue)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	// anything still queued never ran
	for _, task := range m.GetAllTasks() {
		task.mu.Lock()
		if task.State == TaskPending {
			task.State = TaskCanceled
			task.CompletedAt = time.Now()
			task.mu.Unlock()
			m.finish(task)
			continue
		}
		task.mu.Unlock()
	}

	if m.browser != nil {
		m.browser.Close()
	}
}

// worker processes tasks from the queue.
func (m *Manager) worker() {
	defer m.wg.Done()

	for task := range m.queue {
		if m.ctx.Err() != nil {
			return
		}
		m.active.Add(1)
		m.processTask(task)
		m.active.Add(-1)
	}
}

// AddTask queues a download of url. An empty id gets a generated one.
func (m *Manager) AddTask(id, url string, opts ...Option) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running.Load() {
		return nil, fmt.Errorf("manager not started, call Start() first")
	}
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	allOpts := make([]Option, 0, len(m.defaultOptions)+len(opts))
	allOpts = append(allOpts, m.defaultOptions...)
	allOpts = append(allOpts, opts...)

	task := &Task{
		ID:        id,
		URL:       url,
		Options:   allOpts,
		State:     TaskPending,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if _, loaded := m.tasks.LoadOrStore(id, task); loaded {
		return nil, fmt.Errorf("task with ID %q already exists", id)
	}

	select {
	case m.queue <- task:
	default:
		m.tasks.Delete(id)
		return nil, fmt.Errorf("queue is full")
	}

	m.pending.Add(1)
	m.orderMu.Lock()
	m.taskOrder = append(m.taskOrder, id)
	m.orderMu.Unlock()

	return task, nil
}

// GetTask returns a task by ID.
func (m *Manager) GetTask(id string) *Task {
	if t, ok := m.tasks.Load(id); ok {
		return t.(*Task)
	}
	return nil
}

// GetAllTasks returns all tasks in order.
func (m *Manager) GetAllTasks() []*Task {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	tasks := make([]*Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		if t, ok := m.tasks.Load(id); ok {
			tasks = append(tasks, t.(*Task))
		}
	}
	return tasks
}

// CancelTask cancels a pending or running task.
func (m *Manager) CancelTask(id string) error {
	t, ok := m.tasks.Load(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}

	task := t.(*Task)
	task.mu.Lock()
	if task.State.Terminal() {
		task.mu.Unlock()
		return fmt.Errorf("task already finished")
	}

	if task.cancel != nil {
		// processTask observes the canceled context and finishes the task
		task.cancel()
		task.mu.Unlock()
		return nil
	}

	task.State = TaskCanceled
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.notifyStateChange(task)
	m.finish(task)
	return nil
}

// RemoveTask removes a completed/failed/canceled task.
func (m *Manager) RemoveTask(id string) error {
	t, ok := m.tasks.Load(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}

	task := t.(*Task)
	task.mu.RLock()
	state := task.State
	task.mu.RUnlock()
	if !state.Terminal() {
		return fmt.Errorf("cannot remove unfinished task")
	}

	m.tasks.Delete(id)

	m.orderMu.Lock()
	for i, tid := range m.taskOrder {
		if tid == id {
			m.taskOrder = append(m.taskOrder[:i], m.taskOrder[i+1:]...)
			break
		}
	}
	m.orderMu.Unlock()

	return nil
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{}
	m.tasks.Range(func(_, value any) bool {
		task := value.(*Task)
		task.mu.RLock()
		state := task.State
		task.mu.RUnlock()

		stats.Total++
		switch {
		case state == TaskPending:
			stats.Pending++
		case state.Active():
			stats.Active++
		case state == TaskCompleted:
			stats.Completed++
		case state == TaskFailed:
			stats.Failed++
		case state == TaskCanceled:
			stats.Canceled++
		}
		return true
	})
	return stats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
	Canceled  int
}

// processTask handles downloading a single task, retrying failed attempts.
func (m *Manager) processTask(task *Task) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	task.mu.Lock()
	if task.State != TaskPending {
		// canceled while queued
		task.mu.Unlock()
		return
	}
	task.cancel = cancel
	task.StartedAt = time.Now()
	task.mu.Unlock()

	var err error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			m.logger.Warn("retrying download", "task", task.ID, "attempt", attempt+1, "err", err)
			select {
			case <-time.After(m.retryDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}

		var res *Result
		res, err = m.attempt(ctx, task, attempt+1)
		if err == nil {
			m.completeTask(task, res)
			return
		}
		if !retryable(err) {
			break
		}
	}

	if ctx.Err() != nil {
		task.mu.Lock()
		task.State = TaskCanceled
		task.CompletedAt = time.Now()
		task.mu.Unlock()
		m.notifyStateChange(task)
		m.finish(task)
		return
	}
	m.failTask(task, err)
}

// attempt runs one download of task.
func (m *Manager) attempt(ctx context.Context, task *Task, n int) (*Result, error) {
	task.mu.Lock()
	task.Attempts = n
	task.State = TaskDiscovering
	task.Progress = TaskProgress{}
	task.mu.Unlock()
	m.notifyStateChange(task)

	startTime := time.Now()
	opts := make([]Option, 0, len(task.Options)+3)
	if m.browser != nil {
		opts = append(opts, WithDiscoverer(m.browser))
	}
	opts = append(opts, task.Options...)
	opts = append(opts,
		WithOnStage(func(ev StageEvent) { m.handleStage(task, ev) }),
		WithProgress(func(p ProgressUpdate) { m.handleProgress(task, p, startTime) }),
	)

	d, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return d.Fetch(ctx, task.URL)
}

// handleStage moves the task through its states as the pipeline advances.
func (m *Manager) handleStage(task *Task, ev StageEvent) {
	task.mu.Lock()
	changed := true
	switch ev.Stage {
	case StageManifestDiscovered:
		task.State = TaskResolving
	case StageTierSelected:
		task.Progress.Resolution = ev.Resolution
		changed = false
	case StageTracksExpanded:
		task.State = TaskDownloading
		task.Progress.TotalSegments = ev.Segments
	case StageSegmentsFetched:
		task.State = TaskMuxing
	default:
		changed = false
	}
	task.mu.Unlock()

	if changed {
		m.notifyStateChange(task)
	}
}

func (m *Manager) handleProgress(task *Task, p ProgressUpdate, startTime time.Time) {
	if !p.Completed {
		return
	}

	task.mu.Lock()
	task.Progress.CompletedSegments++
	task.Progress.DownloadedBytes += p.BytesLoaded
	task.Progress.CurrentTrack = p.TrackID

	completed := task.Progress.CompletedSegments
	elapsed := time.Since(startTime).Seconds()
	if elapsed > 0 {
		task.Progress.Speed = float64(task.Progress.DownloadedBytes) / elapsed
	}
	remaining := task.Progress.TotalSegments - completed
	if task.Progress.Speed > 0 && completed > 0 && remaining > 0 {
		avgSize := float64(task.Progress.DownloadedBytes) / float64(completed)
		task.Progress.ETA = time.Duration(float64(remaining) * avgSize / task.Progress.Speed * float64(time.Second))
	} else {
		task.Progress.ETA = 0
	}
	task.mu.Unlock()

	if m.onProgress != nil {
		m.onProgress(task)
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch models.KindOf(err) {
	case models.KindInvalidInput, models.KindUnsupportedPlatform:
		return false
	}
	return true
}

func (m *Manager) completeTask(task *Task, res *Result) {
	task.mu.Lock()
	task.State = TaskCompleted
	task.Result = res
	task.Error = nil
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.logger.Info("download complete", "task", task.ID, "output", res.OutputPath)
	m.notifyStateChange(task)
	if m.onComplete != nil {
		m.onComplete(task)
	}
	m.finish(task)
}

func (m *Manager) failTask(task *Task, err error) {
	task.mu.Lock()
	task.State = TaskFailed
	task.Error = err
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.logger.Error("download failed", "task", task.ID, "url", task.URL, "kind", models.KindOf(err), "err", err)
	m.notifyStateChange(task)
	if m.onError != nil {
		m.onError(task, err)
	}
	m.finish(task)
}

// finish marks task as terminal for waiters. It runs at most once per task.
func (m *Manager) finish(task *Task) {
	task.doneOnce.Do(func() {
		close(task.done)
		m.pending.Done()
	})
}

func (m *Manager) notifyStateChange(task *Task) {
	if m.onStateChange != nil {
		m.onStateChange(task)
	}
}

// WaitForTask blocks until a specific task finishes and returns its error.
func (m *Manager) WaitForTask(ctx context.Context, id string) error {
	task := m.GetTask(id)
	if task == nil {
		return fmt.Errorf("task %q not found", id)
	}

	select {
	case <-task.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	info := task.Snapshot()
	switch info.State {
	case TaskFailed:
		return info.Error
	case TaskCanceled:
		return ErrTaskCanceled
	}
	return nil
}

// Wait blocks until every added task has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}
