// Package maintenance sweeps the submit root on a cron schedule: staging
// temp files left behind by killed writers, and job folders whose entity no
// longer exists. Shot folders are never touched, their photos are the only
// copy of a capture.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fourdrec/fourdrec/internal/config"
	"github.com/fourdrec/fourdrec/internal/library"
	"github.com/fourdrec/fourdrec/internal/observability"
	"github.com/fourdrec/fourdrec/internal/storage"
)

const (
	defaultCron          = "0 3 * * *"
	defaultPartialMaxAge = 24 * time.Hour
)

// artifactSuffixes are the extensions of files written through a pending
// temp sibling. A leftover keeps the full artifact name plus random trailing
// digits, so stripping digits and matching one of these identifies it.
var artifactSuffixes = []string{
	".frame-record",
	".4dr",
	".zip",
	".yml",
	".jpg",
	".wav",
}

// Report summarizes one sweep.
type Report struct {
	// TempFiles is how many staging leftovers were removed.
	TempFiles int
	// OrphanFolders is how many job folders without a stored job were
	// removed.
	OrphanFolders int
}

// Sweeper runs scheduled sweeps over the submit root.
type Sweeper struct {
	mu sync.Mutex

	lib      *library.Library
	log      *slog.Logger
	schedule cron.Schedule
	maxAge   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper parses the schedule and binds the sweeper to the library's
// sandbox.
func NewSweeper(lib *library.Library, cfg config.MaintenanceConfig, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	expr := cfg.Cron
	if expr == "" {
		expr = defaultCron
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing maintenance cron %q: %w", expr, err)
	}
	maxAge := cfg.PartialMaxAge
	if maxAge <= 0 {
		maxAge = defaultPartialMaxAge
	}
	return &Sweeper{
		lib:      lib,
		log:      observability.WithComponent(logger, "maintenance"),
		schedule: schedule,
		maxAge:   maxAge,
	}, nil
}

// Start launches the schedule loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("sweeper already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.log.Info("maintenance sweeper started", "max_age", s.maxAge)
	return nil
}

// Stop cancels the loop and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.log.Info("maintenance sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if report, err := s.Sweep(s.ctx); err != nil {
			s.log.Error("sweep failed", "error", err)
		} else if report.TempFiles > 0 || report.OrphanFolders > 0 {
			s.log.Info("sweep finished",
				"temp_files", report.TempFiles,
				"orphan_folders", report.OrphanFolders)
		}
	}
}

// Sweep runs one pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	temp, err := s.sweepTempFiles(ctx)
	report.TempFiles = temp
	if err != nil {
		return report, err
	}

	orphans, err := s.sweepOrphanJobFolders(ctx)
	report.OrphanFolders = orphans
	return report, err
}

// sweepTempFiles walks the submit root removing staging leftovers older
// than the configured age.
func (s *Sweeper) sweepTempFiles(ctx context.Context) (int, error) {
	root := s.lib.Sandbox().BaseDir()
	cutoff := time.Now().Add(-s.maxAge)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isStagingLeftover(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("removing temp file", "path", path, "error", err)
			return nil
		}
		s.log.Debug("removed temp file", "path", path,
			"age", time.Since(info.ModTime()).Round(time.Second))
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping temp files: %w", err)
	}
	return removed, nil
}

// isStagingLeftover recognizes the two temp shapes the pipeline writes: roll
// payload staging files and pending-rename siblings, which carry the target
// name plus random trailing digits.
func isStagingLeftover(name string) bool {
	if strings.Contains(name, ".payload-") {
		return true
	}
	trimmed := strings.TrimRight(name, "0123456789")
	if trimmed == name {
		return false
	}
	for _, suffix := range artifactSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	return false
}

// sweepOrphanJobFolders removes on-disk job folders that no stored job
// references. Only folders under a known project and shot are considered;
// the shot folders themselves always survive.
func (s *Sweeper) sweepOrphanJobFolders(ctx context.Context) (int, error) {
	sandbox := s.lib.Sandbox()
	removed := 0

	projects, err := s.lib.Projects(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing projects: %w", err)
	}
	for _, project := range projects {
		shots, err := s.lib.Shots(ctx, project.ID)
		if err != nil {
			return removed, fmt.Errorf("listing shots of %s: %w", project.Name, err)
		}
		for _, shot := range shots {
			jobs, err := s.lib.Jobs(ctx, shot.ID)
			if err != nil {
				return removed, fmt.Errorf("listing jobs of %s: %w", shot.Name, err)
			}
			known := make(map[string]bool, len(jobs))
			for _, job := range jobs {
				known[job.FolderName] = true
			}

			jobsRel := storage.JobsRel(storage.ShotRel(project.FolderName, shot.FolderName))
			entries, err := sandbox.List(jobsRel)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return removed, fmt.Errorf("listing %s: %w", jobsRel, err)
			}
			for _, entry := range entries {
				if !entry.IsDir() || known[entry.Name()] {
					continue
				}
				rel := storage.JobRel(project.FolderName, shot.FolderName, entry.Name())
				if err := sandbox.RemoveAll(rel); err != nil {
					s.log.Warn("removing orphan job folder", "path", rel, "error", err)
					continue
				}
				s.log.Info("removed orphan job folder", "path", rel)
				removed++
			}
		}
	}
	return removed, nil
}
