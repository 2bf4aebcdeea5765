// Package ffmpeg renders format descriptors with the ffmpeg binary and
// publishes the outputs.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"mediatranscoder/cache"
	"mediatranscoder/config"
	"mediatranscoder/logging"
	"mediatranscoder/task"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Publisher stores a finished output on a storage network.
type Publisher interface {
	Publish(ctx context.Context, dest, path string, encrypted bool) (string, error)
}

type Runner struct {
	cfg       *config.Config
	publisher Publisher
	guard     *cache.Guard
	logger    *slog.Logger
}

func NewRunner(cfg *config.Config, publisher Publisher, guard *cache.Guard, logger *slog.Logger) (*Runner, error) {
	// Ensure ffmpeg binary is executable
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if err := os.MkdirAll(cfg.TranscodedDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create transcoded directory: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		publisher: publisher,
		guard:     guard,
		logger:    logging.NewComponentLogger(logger, "ffmpeg"),
	}, nil
}

// Transcode renders job into the transcoded cache and publishes the result.
// The transcoded directory stays locked until the upload is done.
func (r *Runner) Transcode(ctx context.Context, job task.Job) (string, error) {
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	outputPath := cache.OutputPath(r.cfg.TranscodedDir, job.SourcePath, job.Format.ID, job.Format.Ext)
	args, err := BuildArgs(job.SourcePath, outputPath, job.Format, job.GPU)
	if err != nil {
		return "", fmt.Errorf("format %d: %w", job.Format.ID, err)
	}

	unlock := r.guard.Lock(r.cfg.TranscodedDir)
	defer unlock()

	if err := r.run(ctx, job, args); err != nil {
		os.Remove(outputPath)
		return "", err
	}

	ref, err := r.publisher.Publish(ctx, job.Format.Dest, outputPath, job.Encrypted)
	if err != nil {
		// Without a reference the output must not count as done on a retry.
		os.Remove(outputPath)
		return "", fmt.Errorf("publish %s: %w", outputPath, err)
	}
	return ref, nil
}

func (r *Runner) run(ctx context.Context, job task.Job, args []string) error {
	if r.cfg.FFTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FFTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	r.logger.Info("executing ffmpeg",
		"task_id", job.TaskID,
		"index", job.Index,
		"format_id", job.Format.ID,
		"command", cmd.Path+" "+strings.Join(args, " "),
	)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail(outputBuf.String(), 512))
	}
	r.logger.Info("ffmpeg finished",
		"task_id", job.TaskID,
		"format_id", job.Format.ID,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// checkResources verifies that the system has enough free resources to start
// a new job. A zero threshold disables its check.
func (r *Runner) checkResources() error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.cfg.TranscodedDir)
		if err != nil {
			r.logger.Warn("could not get disk usage", "path", r.cfg.TranscodedDir, "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
