// Package gc keeps the source and transcoded caches under their size
// budgets.
package gc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"mediatranscoder/cache"
	"mediatranscoder/logging"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// Dir is a cache directory and the total size its files may occupy.
type Dir struct {
	Path   string
	Budget int64
}

type fileEntry struct {
	path    string
	size    int64
	created time.Time
}

// Collector periodically deletes files from directories over budget.
type Collector struct {
	dirs     []Dir
	interval time.Duration
	guard    *cache.Guard
	logger   *slog.Logger
	created  func(path string, info os.FileInfo) time.Time
}

func New(dirs []Dir, interval time.Duration, guard *cache.Guard, logger *slog.Logger) *Collector {
	return &Collector{
		dirs:     dirs,
		interval: interval,
		guard:    guard,
		logger:   logging.NewComponentLogger(logger, "gc"),
		created:  createdAt,
	}
}

// Run sweeps once right away and then every interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("garbage collector started", "interval", c.interval, "dirs", len(c.dirs))
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.SweepAll(); err != nil {
			c.logger.Error("garbage collection incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("garbage collector shutting down")
			return
		case <-ticker.C:
		}
	}
}

// SweepAll sweeps every directory; a failure in one does not stop the rest.
func (c *Collector) SweepAll() error {
	var errs []error
	for _, d := range c.dirs {
		if _, err := c.Sweep(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes the newest files of d until its total size fits the budget
// and returns the removed paths. The first deletion failure ends the sweep.
func (c *Collector) Sweep(d Dir) ([]string, error) {
	unlock := c.guard.Lock(d.Path)
	defer unlock()

	files, total, err := c.list(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	var freed int64
	for total > d.Budget && len(files) > 0 {
		f := files[len(files)-1]
		files = files[:len(files)-1]
		if err := os.Remove(f.path); err != nil {
			return removed, fmt.Errorf("gc: remove %s: %w", f.path, err)
		}
		total -= f.size
		freed += f.size
		removed = append(removed, f.path)
	}

	attrs := []any{
		"dir", d.Path,
		"removed", len(removed),
		"freed", humanize.Bytes(uint64(freed)),
		"used", humanize.Bytes(uint64(total)),
		"budget", humanize.Bytes(uint64(d.Budget)),
	}
	if usage, err := disk.Usage(d.Path); err == nil {
		attrs = append(attrs, "disk_free", humanize.Bytes(usage.Free))
	}
	if len(removed) > 0 {
		c.logger.Info("cache swept", attrs...)
	} else {
		c.logger.Debug("cache within budget", attrs...)
	}
	return removed, nil
}

// list returns the regular files of dir sorted by creation time, oldest
// first, and their total size.
func (c *Collector) list(dir string) ([]fileEntry, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var files []fileEntry
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed since ReadDir.
			continue
		}
		path := filepath.Join(dir, e.Name())
		files = append(files, fileEntry{path: path, size: info.Size(), created: c.created(path, info)})
		total += info.Size()
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].created.Before(files[j].created)
	})
	return files, total, nil
}
