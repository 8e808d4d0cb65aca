// Package ytdlp adapts the yt-dlp command line tool to the fetch.Fetcher
// boundary. It never parses media itself; yt-dlp does the retrieval and this
// package drives it and interprets its output.
package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"downloader/internal/core/fetch"
	"downloader/internal/core/job"
	"downloader/internal/logger"
)

const (
	resolveTimeout = 60 * time.Second
	probeTimeout   = 30 * time.Second
)

// Client shells out to the yt-dlp binary.
type Client struct {
	bin string
	log *logger.Logger
}

// New returns a Client using the given binary name, or "yt-dlp" when empty.
func New(bin string) *Client {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Client{bin: bin, log: logger.New("YtDlp")}
}

// CheckBinary verifies yt-dlp is installed and on PATH.
func (c *Client) CheckBinary() error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.bin)
	}
	return nil
}

// Resolve probes url with a flat playlist dump and reports what a download
// of it would yield.
func (c *Client) Resolve(ctx context.Context, url string) (*fetch.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	out, err := c.run(ctx, "--no-warnings", "--quiet", "--flat-playlist", "-J", url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn().Str("url", url).Err(err).Msg("resolve failed")
		return nil, fetch.ErrUnresolvable
	}
	res, err := parseResolution(out)
	if err != nil {
		return nil, fetch.ErrUnresolvable
	}
	return res, nil
}

// Fetch downloads the requested media into req.OutputDir. Playlist entries
// are downloaded one at a time so a broken entry only costs that entry.
func (c *Client) Fetch(ctx context.Context, req fetch.Request, onProgress func(fetch.Progress)) ([]fetch.Item, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, &fetch.Error{Kind: fetch.KindDisk, Message: err.Error()}
	}

	if req.Kind == job.KindPlaylist {
		return c.fetchPlaylist(ctx, req, onProgress)
	}

	it, err := c.fetchOne(ctx, req.URL, req.OutputDir, nil, func(p fetch.Progress) {
		p.Total = 1
		onProgress(p)
	})
	if err != nil {
		return nil, err
	}
	onProgress(fetch.Progress{Completed: 1, Total: 1, BytesDone: it.SizeBytes, Message: it.Title})
	return []fetch.Item{*it}, nil
}

func (c *Client) fetchPlaylist(ctx context.Context, req fetch.Request, onProgress func(fetch.Progress)) ([]fetch.Item, error) {
	probeCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	out, err := c.run(probeCtx, "--no-warnings", "--quiet", "--flat-playlist", "-J", req.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}
	entries, err := parsePlaylistEntries(out)
	if err != nil {
		return nil, &fetch.Error{Kind: fetch.KindNotFound, Message: "no videos found in playlist"}
	}
	if req.MaxItems > 0 && len(entries) > req.MaxItems {
		entries = entries[:req.MaxItems]
	}

	total := len(entries)
	items := make([]fetch.Item, 0, total)
	var bytesDone int64
	for i, entry := range entries {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		idx := entry.Index
		if idx == 0 {
			idx = i + 1
		}
		seq := idx
		it, err := c.fetchOne(ctx, entry.URL, req.OutputDir, &seq, func(p fetch.Progress) {
			p.Completed = len(items)
			p.Total = total
			p.BytesDone = bytesDone + p.BytesDone
			onProgress(p)
		})
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			// Tolerant playlist semantics: a broken entry is skipped.
			c.log.Warn().Str("url", entry.URL).Err(err).Msg("skipping playlist entry")
			continue
		}
		items = append(items, *it)
		bytesDone += it.SizeBytes
		onProgress(fetch.Progress{Completed: len(items), Total: total, BytesDone: bytesDone, Message: it.Title})
	}
	return items, nil
}

// fetchOne probes a single video for metadata, then downloads it.
func (c *Client) fetchOne(ctx context.Context, url, outputDir string, seq *int, onProgress func(fetch.Progress)) (*fetch.Item, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	out, err := c.run(probeCtx, "--no-warnings", "--quiet", "--no-download", "--dump-json", url)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}
	meta, err := parseVideoMetadata(out)
	if err != nil {
		return nil, &fetch.Error{Kind: fetch.KindNotFound, Message: "failed to parse metadata"}
	}

	template := filepath.Join(outputDir, "%(title)s.%(ext)s")
	cmd := exec.CommandContext(ctx, c.bin,
		"--no-warnings", "--quiet", "--no-simulate", "--progress", "--newline",
		"--print", "after_move:filepath",
		"-f", "best[ext=mp4]/best", "-o", template, url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classify(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classify(err)
	}

	path := scanDownloadOutput(stdout, func(pct float64) {
		onProgress(fetch.Progress{Message: fmt.Sprintf("%s: %.1f%%", meta.Title, pct)})
	})
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyStderr(err, stderr.String())
	}
	if path == "" {
		// Older yt-dlp builds without after_move printing; best guess.
		path = filepath.Join(outputDir, sanitizeTitle(meta.Title)+".mp4")
	}
	it := &fetch.Item{
		SourceURL:       url,
		Title:           meta.Title,
		DurationSeconds: meta.Duration,
		FilePath:        path,
		SequenceIndex:   seq,
	}
	if fi, err := os.Stat(path); err == nil {
		it.SizeBytes = fi.Size()
	}
	return it, nil
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", c.bin, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s returned empty output", c.bin)
	}
	return stdout.Bytes(), nil
}

func classify(err error) *fetch.Error {
	return classifyStderr(err, err.Error())
}

func classifyStderr(err error, stderr string) *fetch.Error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "404") || strings.Contains(lower, "not available") || strings.Contains(lower, "does not exist"):
		return &fetch.Error{Kind: fetch.KindNotFound, Message: msg}
	case strings.Contains(lower, "no space left") || strings.Contains(lower, "disk"):
		return &fetch.Error{Kind: fetch.KindDisk, Message: msg}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate") || strings.Contains(lower, "quota"):
		return &fetch.Error{Kind: fetch.KindQuota, Message: msg}
	default:
		return &fetch.Error{Kind: fetch.KindNetwork, Message: msg}
	}
}

var _ fetch.Fetcher = (*Client)(nil)
