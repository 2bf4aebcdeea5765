package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"mediatranscoder/cache"
	"mediatranscoder/config"
	"mediatranscoder/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	dest      string
	encrypted bool
	content   string
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, dest, path string, encrypted bool) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m.dest, m.encrypted, m.content = dest, encrypted, string(data)
	return "uPUBLISHED", nil
}

// fakeFFmpeg writes a script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestRunner(t *testing.T, script string, pub Publisher) (*Runner, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		FFBin:         fakeFFmpeg(t, script),
		TranscodedDir: filepath.Join(t.TempDir(), "transcoded"),
	}
	r, err := NewRunner(cfg, pub, cache.NewGuard(), nil)
	require.NoError(t, err)
	return r, cfg
}

func TestRunner_Transcode(t *testing.T) {
	pub := &mockPublisher{}
	r, cfg := newTestRunner(t, `for last; do :; done; echo transcoded > "$last"`, pub)

	job := task.Job{
		TaskID:     "t1",
		SourcePath: "/cache/src/uABC",
		Format:     task.Format{ID: 4, Ext: "webm", Dest: "s5"},
		Encrypted:  true,
	}
	ref, err := r.Transcode(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "uPUBLISHED", ref)
	assert.Equal(t, "s5", pub.dest)
	assert.True(t, pub.encrypted)
	assert.Equal(t, "transcoded\n", pub.content)
	assert.FileExists(t, filepath.Join(cfg.TranscodedDir, "uABC_4.webm"))
}

func TestRunner_FFmpegFailure(t *testing.T) {
	pub := &mockPublisher{}
	r, cfg := newTestRunner(t, `for last; do :; done; echo partial > "$last"; echo "Unknown encoder" >&2; exit 1`, pub)

	_, err := r.Transcode(context.Background(), task.Job{SourcePath: "/src/a", Format: task.Format{ID: 1, Ext: "mp4"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown encoder")
	assert.NoFileExists(t, filepath.Join(cfg.TranscodedDir, "a_1.mp4"))
	assert.Empty(t, pub.content)
}

func TestRunner_PublishFailureRemovesOutput(t *testing.T) {
	pub := &mockPublisher{err: errors.New("portal unavailable")}
	r, cfg := newTestRunner(t, `for last; do :; done; echo ok > "$last"`, pub)

	_, err := r.Transcode(context.Background(), task.Job{SourcePath: "/src/a", Format: task.Format{ID: 1, Ext: "mp4"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portal unavailable")
	assert.NoFileExists(t, filepath.Join(cfg.TranscodedDir, "a_1.mp4"))
}

func TestNewRunner_MissingBinary(t *testing.T) {
	cfg := &config.Config{FFBin: filepath.Join(t.TempDir(), "no-ffmpeg"), TranscodedDir: t.TempDir()}
	_, err := NewRunner(cfg, &mockPublisher{}, nil, nil)
	assert.Error(t, err)
}
