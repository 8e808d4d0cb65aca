package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"downloader/internal/core/job"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(id string, created time.Time) *job.Job {
	return &job.Job{
		ID:        id,
		Kind:      job.KindVideo,
		SourceURL: "https://example.com/watch?v=" + id,
		OutputDir: "/tmp/downloads",
		Status:    job.StatusQueued,
		CreatedAt: created,
	}
}

func TestPutJobGetJobRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Millisecond)
	started := created.Add(time.Second)
	finished := created.Add(2 * time.Second)
	total := 5
	j := testJob("j1", created)
	j.Status = job.StatusSucceeded
	j.StartedAt = &started
	j.FinishedAt = &finished
	j.Progress = job.Progress{ItemsTotal: &total, ItemsCompleted: 3, BytesDone: 1024, LastMessage: "done"}

	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("put job: %v", err)
	}
	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != job.StatusSucceeded || got.SourceURL != j.SourceURL || got.OutputDir != j.OutputDir {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.StartedAt == nil || !got.StartedAt.Equal(started) ||
		got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("timestamps mismatch: created=%v started=%v finished=%v", got.CreatedAt, got.StartedAt, got.FinishedAt)
	}
	if !reflect.DeepEqual(got.Progress, j.Progress) {
		t.Errorf("progress mismatch: got %+v, want %+v", got.Progress, j.Progress)
	}
}

func TestPutJobIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := testJob("j1", time.Now().UTC())
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("first put: %v", err)
	}
	first, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get after first put: %v", err)
	}
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("second put: %v", err)
	}
	second, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get after second put: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated put changed observable state:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("expected 1 job after repeated put, got %d", len(jobs))
	}
}

func TestPutJobReplacesFullRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := testJob("j1", time.Now().UTC())
	j.Error = &job.Error{Kind: job.ErrKindFetch, Message: "boom"}
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("put: %v", err)
	}

	j.Error = nil
	j.Status = job.StatusRunning
	if err := s.PutJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Error != nil {
		t.Errorf("stale error survived full-record replace: %+v", got.Error)
	}
	if got.Status != job.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobsOrderedByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	// Inserted out of order on purpose.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"c", 2 * time.Second},
		{"a", 0},
		{"b", time.Second},
	} {
		if err := s.PutJob(ctx, testJob(tc.id, base.Add(tc.offset))); err != nil {
			t.Fatalf("put %s: %v", tc.id, err)
		}
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want [a b c]", ids)
	}
}

func TestPutItemConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutJob(ctx, testJob("j1", time.Now().UTC())); err != nil {
		t.Fatalf("put job: %v", err)
	}
	it := &job.Item{ID: "i1", JobID: "j1", Title: "clip", FilePath: "/tmp/clip.mp4", CreatedAt: time.Now().UTC()}
	if err := s.PutItem(ctx, it); err != nil {
		t.Fatalf("first put item: %v", err)
	}
	if err := s.PutItem(ctx, it); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate item, got %v", err)
	}
}

func TestListItemsOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutJob(ctx, testJob("j1", time.Now().UTC())); err != nil {
		t.Fatalf("put job: %v", err)
	}
	seq := func(n int) *int { return &n }
	now := time.Now().UTC()
	for _, it := range []*job.Item{
		{ID: "i3", JobID: "j1", Title: "third", SequenceIndex: seq(3), CreatedAt: now},
		{ID: "i1", JobID: "j1", Title: "first", SequenceIndex: seq(1), CreatedAt: now},
		{ID: "i2", JobID: "j1", Title: "second", SequenceIndex: seq(2), CreatedAt: now},
	} {
		if err := s.PutItem(ctx, it); err != nil {
			t.Fatalf("put item %s: %v", it.ID, err)
		}
	}

	items, err := s.ListItems(ctx, "j1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	var titles []string
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	if !reflect.DeepEqual(titles, []string{"first", "second", "third"}) {
		t.Errorf("order = %v, want [first second third]", titles)
	}
}

func TestFindItemByURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.FindItemByURL(ctx, "https://example.com/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown url, got %v", err)
	}

	if err := s.PutJob(ctx, testJob("j1", time.Now().UTC())); err != nil {
		t.Fatalf("put job: %v", err)
	}
	it := &job.Item{
		ID: "i1", JobID: "j1",
		SourceURL: "https://example.com/watch?v=abc",
		Title:     "clip", FilePath: "/tmp/clip.mp4",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PutItem(ctx, it); err != nil {
		t.Fatalf("put item: %v", err)
	}
	got, err := s.FindItemByURL(ctx, "https://example.com/watch?v=abc")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.FilePath != "/tmp/clip.mp4" {
		t.Errorf("file path = %s", got.FilePath)
	}
}
