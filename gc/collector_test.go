package gc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"mediatranscoder/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles creates one file per size, each a minute newer than the last,
// and returns their paths in creation order.
func writeFiles(t *testing.T, dir string, sizes ...int) []string {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	var paths []string
	for i, size := range sizes {
		p := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, ts, ts))
		paths = append(paths, p)
	}
	return paths
}

func newTestCollector(dirs ...Dir) *Collector {
	c := New(dirs, time.Hour, cache.NewGuard(), nil)
	c.created = func(path string, info os.FileInfo) time.Time { return info.ModTime() }
	return c
}

func TestSweep_RemovesNewestFirst(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 10, 20, 30, 40)

	c := newTestCollector()
	removed, err := c.Sweep(Dir{Path: dir, Budget: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{paths[3], paths[2]}, removed)

	assert.FileExists(t, paths[0])
	assert.FileExists(t, paths[1])
	assert.NoFileExists(t, paths[2])
	assert.NoFileExists(t, paths[3])
}

func TestSweep_WithinBudget(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 10, 20)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	removed, err := newTestCollector().Sweep(Dir{Path: dir, Budget: 30})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweep_MissingDirectory(t *testing.T) {
	removed, err := newTestCollector().Sweep(Dir{Path: filepath.Join(t.TempDir(), "nope"), Budget: 1})
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweep_DeletionFailureStopsSweep(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	dir := t.TempDir()
	writeFiles(t, dir, 10, 20)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	removed, err := newTestCollector().Sweep(Dir{Path: dir, Budget: 0})
	assert.Error(t, err)
	assert.Empty(t, removed)
}

func TestSweepAll_BothDirectories(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeFiles(t, src, 100, 100)
	writeFiles(t, out, 5, 5, 5)

	c := newTestCollector(Dir{Path: src, Budget: 150}, Dir{Path: out, Budget: 10})
	require.NoError(t, c.SweepAll())

	for dir, want := range map[string]int{src: 1, out: 2} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, want, dir)
	}
}

func TestRun_SweepsImmediatelyAndStops(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 10, 10, 10)

	c := newTestCollector(Dir{Path: dir, Budget: 10})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestList_SortedOldestFirst(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3, 1, 2)

	files, total, err := newTestCollector().list(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)

	got := make([]string, len(files))
	for i, f := range files {
		got[i] = f.path
	}
	assert.True(t, sort.SliceIsSorted(files, func(i, j int) bool { return files[i].created.Before(files[j].created) }))
	assert.Equal(t, paths, got)
}
