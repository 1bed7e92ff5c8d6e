package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Urpagin/DynamicWallpaper/internal/catalog"
	"github.com/Urpagin/DynamicWallpaper/internal/config"
	"github.com/Urpagin/DynamicWallpaper/internal/imagefile"
)

// Engine orchestrates one reconciliation cycle: fetch the remote catalog,
// diff it against the local directory, download what is missing and delete
// what the catalog no longer lists.
type Engine struct {
	cfg     *config.Config
	catalog catalog.Client
	logger  *slog.Logger
	dryRun  bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, catalogClient catalog.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		catalog: catalogClient,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Run executes one complete reconciliation cycle. Catalog fetch and
// inventory failures abort the cycle; individual download or delete
// failures are logged and do not.
func (e *Engine) Run(ctx context.Context) error {
	dir := e.cfg.Client.Directory

	e.logger.Info("starting sync",
		"endpoint", e.cfg.Client.Endpoint,
		"directory", dir,
		"dry_run", e.dryRun)

	// A missing target directory means an empty inventory, not an error
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	remote, err := e.catalog.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch catalog: %w", err)
	}
	e.logger.Info("catalog fetched", "images", len(remote))

	local, err := imagefile.ListDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list local directory: %w", err)
	}

	plan := BuildPlan(remote, local)
	e.logger.Info("reconciliation plan",
		"download", len(plan.Download),
		"delete", len(plan.Delete),
		"in_sync", len(local)-len(plan.Delete))

	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	downloaded, failedDownloads := e.downloadAll(ctx, plan.Download)
	deleted, failedDeletes := e.deleteAll(plan.Delete)

	e.logger.Info("sync completed",
		"downloaded", downloaded,
		"deleted", deleted,
		"failed_downloads", failedDownloads,
		"failed_deletes", failedDeletes)

	return nil
}

// downloadAll fetches the planned records through a bounded worker pool.
// Failures are isolated per file: one bad download is logged and counted
// but never cancels or blocks the rest of the batch.
func (e *Engine) downloadAll(ctx context.Context, records []catalog.ImageRecord) (ok, failed int) {
	if len(records) == 0 {
		return 0, 0
	}

	var okCount, failCount atomic.Int64

	var g errgroup.Group
	g.SetLimit(e.cfg.Client.Parallel)

	for _, rec := range records {
		g.Go(func() error {
			if err := e.downloadOne(ctx, rec); err != nil {
				e.logger.Error("download failed", "file", rec.Filename, "error", err)
				failCount.Add(1)
				return nil // keep the remaining downloads going
			}
			e.logger.Info("downloaded", "file", rec.Filename)
			okCount.Add(1)
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	return int(okCount.Load()), int(failCount.Load())
}

// downloadOne streams one remote image into the target directory via a temp
// file and an atomic rename, so a concurrent run never observes a partial
// file. Catalog entries whose filename does not stay inside the directory
// are refused.
func (e *Engine) downloadOne(ctx context.Context, rec catalog.ImageRecord) error {
	if rec.Filename == "" || rec.Filename != filepath.Base(rec.Filename) {
		return fmt.Errorf("refusing suspicious catalog filename %q", rec.Filename)
	}

	body, err := e.catalog.Download(ctx, rec)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	dst := filepath.Join(e.cfg.Client.Directory, rec.Filename)
	return writeFileAtomic(dst, body)
}

// deleteAll removes local files the catalog no longer lists, best-effort per
// file. Files already gone are not counted as failures.
func (e *Engine) deleteAll(names []string) (ok, failed int) {
	for _, name := range names {
		path := filepath.Join(e.cfg.Client.Directory, name)

		e.logger.Info("deleting local file", "file", name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Error("delete failed", "file", name, "error", err)
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, rec := range plan.Download {
		e.logger.Info("[dry-run] would download", "file", rec.Filename, "from", rec.DownloadLink)
	}
	for _, name := range plan.Delete {
		e.logger.Info("[dry-run] would delete", "file", name)
	}
}

// writeFileAtomic streams r to dst through a temp file in the destination
// directory, renaming it into place only once fully written.
func writeFileAtomic(dst string, r io.Reader) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".dynwall-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, r); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
