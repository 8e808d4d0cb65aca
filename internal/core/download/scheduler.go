package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"downloader/internal/catalog"
	"downloader/internal/core/fetch"
	"downloader/internal/core/job"
	"downloader/internal/logger"
)

// ErrValidation marks requests rejected before a job is created.
var ErrValidation = errors.New("invalid request")

// ErrStopped is returned by Submit after the scheduler has shut down.
var ErrStopped = errors.New("scheduler stopped")

const (
	storeRetries          = 3
	storeRetryDelay       = 100 * time.Millisecond
	progressFlushInterval = 200 * time.Millisecond
)

// stopGracePeriod bounds how long Stop waits quietly for workers to drain
// before reporting them as stuck.
var stopGracePeriod = 30 * time.Second

// Catalog is the slice of the durable store the scheduler writes through.
type Catalog interface {
	PutJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	PutItem(ctx context.Context, it *job.Item) error
}

// DefaultMaxItems caps playlist downloads when the caller does not say
// otherwise.
const DefaultMaxItems = 5

// SubmitRequest is a validated admission request for one download.
type SubmitRequest struct {
	URL       string
	OutputDir string
	KindHint  job.Kind
	// MaxItems caps playlist downloads; 0 means no cap.
	MaxItems int
}

// Scheduler owns the worker pool and is the only writer of job state. Jobs
// are admitted FIFO and executed by at most poolSize workers at a time.
type Scheduler struct {
	store      Catalog
	fetcher    fetch.Fetcher
	log        *logger.Logger
	poolSize   int
	defaultDir string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	tracked map[string]*trackedJob
	closed  bool
	wg      sync.WaitGroup
}

// trackedJob is the in-flight bookkeeping for a queued or running job.
// Durable state lives in the catalog; this only carries dispatch data.
type trackedJob struct {
	queued          bool
	maxItems        int
	cancel          context.CancelFunc
	cancelRequested bool
}

// NewScheduler builds a scheduler with poolSize workers. Call Start before
// submitting.
func NewScheduler(store Catalog, fetcher fetch.Fetcher, poolSize int, defaultDir string) *Scheduler {
	if poolSize < 1 {
		poolSize = 1
	}
	s := &Scheduler{
		store:      store,
		fetcher:    fetcher,
		log:        logger.New("Scheduler"),
		poolSize:   poolSize,
		defaultDir: defaultDir,
		tracked:    make(map[string]*trackedJob),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start recovers jobs interrupted by a previous run and spawns the workers.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}
	for i := 0; i < s.poolSize; i++ {
		s.wg.Add(1)
		go s.worker(i + 1)
	}
	s.log.Info().Int("pool_size", s.poolSize).Msg("scheduler started")
	return nil
}

// recover re-enqueues jobs still marked queued and fails jobs left running
// by a crash: their workers are gone, so running would be a lie.
func (s *Scheduler) recover(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("recover catalog: %w", err)
	}
	for _, j := range jobs {
		switch j.Status {
		case job.StatusQueued:
			s.mu.Lock()
			s.pending = append(s.pending, j.ID)
			s.tracked[j.ID] = &trackedJob{queued: true}
			s.mu.Unlock()
			s.log.Info().Str("job_id", j.ID).Msg("re-enqueued job from previous run")
		case job.StatusRunning:
			j.Error = &job.Error{Kind: job.ErrKindInterrupted, Message: "interrupted by restart"}
			s.transition(j, job.StatusFailed)
			s.log.Warn().Str("job_id", j.ID).Msg("failed job interrupted by restart")
		}
	}
	return nil
}

// Stop cancels running jobs, wakes idle workers, and waits for the pool to
// drain, logging a warning if a worker outlives the grace period. Jobs still
// queued stay queued in the catalog for the next run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for _, tr := range s.tracked {
		if tr.cancel != nil {
			tr.cancel()
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	stuck := time.AfterFunc(stopGracePeriod, func() {
		s.log.Warn().Dur("grace", stopGracePeriod).Msg("worker pool did not drain within grace period")
	})
	s.wg.Wait()
	stuck.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// Submit validates the request, persists a queued job, and enqueues it for
// dispatch. It never waits for the download itself.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return "", fmt.Errorf("%w: url is required", ErrValidation)
	}
	outDir, err := s.resolveOutputDir(req.OutputDir)
	if err != nil {
		return "", err
	}

	kind := req.KindHint
	if kind != job.KindPlaylist {
		kind = job.KindVideo
	}
	j := &job.Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		SourceURL: url,
		OutputDir: outDir,
		Status:    job.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutJob(ctx, j); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStopped
	}
	s.pending = append(s.pending, j.ID)
	s.tracked[j.ID] = &trackedJob{queued: true, maxItems: req.MaxItems}
	s.cond.Signal()
	s.mu.Unlock()

	s.log.Info().Str("job_id", j.ID).Str("url", url).Msg("job admitted")
	return j.ID, nil
}

// resolveOutputDir joins relative paths onto the configured base directory
// and checks the target can actually be created.
func (s *Scheduler) resolveOutputDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = s.defaultDir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.defaultDir, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: output dir %s: %v", ErrValidation, dir, err)
	}
	return dir, nil
}

// Status returns the latest persisted snapshot for id.
func (s *Scheduler) Status(ctx context.Context, id string) (*job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Cancel requests cancellation. A queued job is finalized immediately; a
// running job is signaled and finalized by its worker. Cancelling a terminal
// job is a no-op that returns the current snapshot.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	tr, ok := s.tracked[id]
	if ok && tr.queued {
		for i, pid := range s.pending {
			if pid == id {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
		delete(s.tracked, id)
		s.mu.Unlock()

		j, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		s.transition(j, job.StatusCancelled)
		s.log.Info().Str("job_id", id).Msg("cancelled queued job")
		return j, nil
	}
	if ok {
		if tr.cancel != nil {
			tr.cancel()
		} else {
			tr.cancelRequested = true
		}
		s.mu.Unlock()
		s.log.Info().Str("job_id", id).Msg("cancellation signaled")
		return s.store.GetJob(ctx, id)
	}
	s.mu.Unlock()
	// Terminal or unknown: the snapshot (or ErrNotFound) says which.
	return s.store.GetJob(ctx, id)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		jobID := s.pending[0]
		s.pending = s.pending[1:]
		tr := s.tracked[jobID]
		if tr == nil {
			s.mu.Unlock()
			continue
		}
		tr.queued = false
		ctx, cancel := context.WithCancel(context.Background())
		tr.cancel = cancel
		if tr.cancelRequested {
			cancel()
		}
		maxItems := tr.maxItems
		s.mu.Unlock()

		s.runJob(ctx, jobID, maxItems)
		cancel()

		s.mu.Lock()
		delete(s.tracked, jobID)
		s.mu.Unlock()
	}
}

// runJob drives one job from Running to a terminal state. It is the only
// goroutine mutating this job while it runs.
func (s *Scheduler) runJob(ctx context.Context, id string, maxItems int) {
	j, err := s.store.GetJob(context.Background(), id)
	if err != nil {
		s.log.Error().Str("job_id", id).Err(err).Msg("load job for dispatch")
		return
	}
	if j.Status != job.StatusQueued {
		return
	}
	if !s.transition(j, job.StatusRunning) {
		return
	}

	res, err := s.fetcher.Resolve(ctx, j.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(j, job.StatusCancelled)
			return
		}
		j.Error = &job.Error{Kind: job.ErrKindUnresolvable, Message: err.Error()}
		s.transition(j, job.StatusFailed)
		return
	}
	j.Kind = res.Kind
	total := res.ItemCountHint
	if j.Kind == job.KindPlaylist && maxItems > 0 && total > maxItems {
		total = maxItems
	}
	j.Progress.ItemsTotal = &total
	if res.Title != "" {
		j.Progress.LastMessage = res.Title
	}
	// Not a state transition; best effort.
	_ = s.store.PutJob(context.Background(), j)

	var lastFlush time.Time
	onProgress := func(p fetch.Progress) {
		if p.Completed > j.Progress.ItemsCompleted {
			j.Progress.ItemsCompleted = p.Completed
		}
		if p.Total > 0 {
			t := p.Total
			j.Progress.ItemsTotal = &t
		}
		if p.BytesDone > j.Progress.BytesDone {
			j.Progress.BytesDone = p.BytesDone
		}
		if p.Message != "" {
			j.Progress.LastMessage = p.Message
		}
		if time.Since(lastFlush) >= progressFlushInterval {
			if err := s.store.PutJob(context.Background(), j); err == nil {
				lastFlush = time.Now()
			}
		}
	}

	items, fetchErr := s.fetcher.Fetch(ctx, fetch.Request{
		URL:       j.SourceURL,
		OutputDir: j.OutputDir,
		Kind:      j.Kind,
		MaxItems:  maxItems,
	}, onProgress)

	// Items completed before an interruption or failure were still fetched
	// successfully and belong in the catalog.
	s.persistItems(j, items)
	if len(items) > j.Progress.ItemsCompleted {
		j.Progress.ItemsCompleted = len(items)
	}

	switch {
	case fetchErr == nil:
		s.transition(j, job.StatusSucceeded)
	case ctx.Err() != nil || errors.Is(fetchErr, context.Canceled):
		s.transition(j, job.StatusCancelled)
	default:
		j.Error = &job.Error{Kind: job.ErrKindFetch, Message: fetchErr.Error()}
		s.transition(j, job.StatusFailed)
	}
}

func (s *Scheduler) persistItems(j *job.Job, items []fetch.Item) {
	for _, it := range items {
		rec := &job.Item{
			ID:              uuid.New().String(),
			JobID:           j.ID,
			SourceURL:       it.SourceURL,
			Title:           it.Title,
			DurationSeconds: it.DurationSeconds,
			FilePath:        it.FilePath,
			SizeBytes:       it.SizeBytes,
			SequenceIndex:   it.SequenceIndex,
			CreatedAt:       time.Now().UTC(),
		}
		if rec.SourceURL == "" {
			rec.SourceURL = j.SourceURL
		}
		err := s.putItemRetry(rec)
		if errors.Is(err, catalog.ErrConflict) {
			s.log.Warn().Str("job_id", j.ID).Str("title", it.Title).Msg("duplicate item skipped")
			continue
		}
		if err != nil {
			s.log.Error().Str("job_id", j.ID).Err(err).Msg("persist item")
		}
	}
}

func (s *Scheduler) putItemRetry(it *job.Item) error {
	var err error
	for attempt := 0; attempt <= storeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(storeRetryDelay)
		}
		err = s.store.PutItem(context.Background(), it)
		if err == nil || errors.Is(err, catalog.ErrConflict) {
			return err
		}
	}
	return err
}

// transition applies a legal state change, stamps its timestamp, and
// persists it durably with bounded retries. If the write cannot be made
// durable the job is failed with a store error instead of being left in a
// stale state.
func (s *Scheduler) transition(j *job.Job, next job.Status) bool {
	if !j.Status.CanTransition(next) {
		s.log.Warn().Str("job_id", j.ID).
			Str("from", string(j.Status)).Str("to", string(next)).
			Msg("illegal transition dropped")
		return false
	}
	now := time.Now().UTC()
	j.Status = next
	if next == job.StatusRunning {
		j.StartedAt = &now
	}
	if next.IsTerminal() {
		j.FinishedAt = &now
	}

	var err error
	for attempt := 0; attempt <= storeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(storeRetryDelay)
		}
		if err = s.store.PutJob(context.Background(), j); err == nil {
			return true
		}
	}
	s.log.Error().Str("job_id", j.ID).Err(err).Msg("transition write exhausted retries")

	// Whatever the intended status was, the durable record must not keep
	// claiming the job is still queued or running.
	if j.Error == nil || j.Error.Kind != job.ErrKindStore {
		j.Status = job.StatusFailed
		j.Error = &job.Error{Kind: job.ErrKindStore, Message: err.Error()}
		j.FinishedAt = &now
		for attempt := 0; attempt <= storeRetries; attempt++ {
			if s.store.PutJob(context.Background(), j) == nil {
				return false
			}
			time.Sleep(storeRetryDelay)
		}
		// The catalog is persistently unavailable; nothing more a single
		// job can do about it.
		s.log.Error().Str("job_id", j.ID).Msg("catalog unavailable, job state may be stale")
	}
	return false
}
