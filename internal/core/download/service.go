package download

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"downloader/internal/catalog"
	"downloader/internal/core/fetch"
	"downloader/internal/core/job"
	"downloader/internal/logger"
	rds "downloader/internal/platform/redis"
)

const metadataCacheTTL = 900 // seconds

// Metadata is the result of a probe that does not create a job.
type Metadata struct {
	URL           string   `json:"url"`
	Kind          job.Kind `json:"kind"`
	ItemCountHint int      `json:"item_count_hint"`
	Title         string   `json:"title,omitempty"`
	Downloaded    bool     `json:"downloaded"`
	FilePath      string   `json:"file_path,omitempty"`
}

// JobWithItems pairs a job snapshot with its catalog items for listings.
type JobWithItems struct {
	Job   *job.Job    `json:"job"`
	Items []*job.Item `json:"items"`
}

// Service is the thin coordination layer over the scheduler and the catalog.
// It only reads job state and relays cancellation; the scheduler writes.
type Service struct {
	sched   *Scheduler
	store   *catalog.Store
	fetcher fetch.Fetcher
	redis   *rds.Service // optional probe cache, may be nil
	log     *logger.Logger
}

func NewService(sched *Scheduler, store *catalog.Store, fetcher fetch.Fetcher, redis *rds.Service) *Service {
	return &Service{sched: sched, store: store, fetcher: fetcher, redis: redis, log: logger.New("DownloadService")}
}

// Start admits a download request and returns its job id.
func (s *Service) Start(ctx context.Context, req SubmitRequest) (string, error) {
	return s.sched.Submit(ctx, req)
}

// Status returns the latest persisted snapshot for a job.
func (s *Service) Status(ctx context.Context, id string) (*job.Job, error) {
	return s.sched.Status(ctx, id)
}

// Cancel relays a cancellation request and returns the last-known state.
func (s *Service) Cancel(ctx context.Context, id string) (*job.Job, error) {
	return s.sched.Cancel(ctx, id)
}

// List returns every job, oldest first, each with its downloaded items.
func (s *Service) List(ctx context.Context) ([]JobWithItems, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]JobWithItems, 0, len(jobs))
	for _, j := range jobs {
		items, err := s.store.ListItems(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, JobWithItems{Job: j, Items: items})
	}
	return out, nil
}

// Metadata probes a URL without creating a job. Probe results are cached in
// Redis when a cache is configured; the downloaded flag always reflects the
// current catalog.
func (s *Service) Metadata(ctx context.Context, url string) (*Metadata, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}

	meta := s.cachedProbe(ctx, url)
	if meta == nil {
		res, err := s.fetcher.Resolve(ctx, url)
		if err != nil {
			return nil, err
		}
		meta = &Metadata{
			URL:           url,
			Kind:          res.Kind,
			ItemCountHint: res.ItemCountHint,
			Title:         res.Title,
		}
		s.cacheProbe(ctx, url, meta)
	}

	if it, err := s.store.FindItemByURL(ctx, url); err == nil {
		meta.Downloaded = true
		meta.FilePath = it.FilePath
	} else if !errors.Is(err, catalog.ErrNotFound) {
		s.log.Warn().Str("url", url).Err(err).Msg("catalog lookup during probe")
	}
	return meta, nil
}

func (s *Service) cachedProbe(ctx context.Context, url string) *Metadata {
	if s.redis == nil {
		return nil
	}
	var meta Metadata
	if err := s.redis.CacheGet(ctx, probeKey(url), &meta); err != nil {
		return nil
	}
	s.log.Debug().Str("url", url).Msg("probe cache hit")
	return &meta
}

func (s *Service) cacheProbe(ctx context.Context, url string, meta *Metadata) {
	if s.redis == nil {
		return
	}
	_ = s.redis.CacheSet(ctx, probeKey(url), meta, metadataCacheTTL)
}

func probeKey(url string) string { return "probe:" + url }
