// Package cache names the files kept in the source and transcoded cache
// directories and serializes access to each directory.
package cache

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// BareCID returns the identifier without scheme, directories or extension:
// "s5://uABC.mp4" becomes "uABC".
func BareCID(sourceCID string) string {
	base := path.Base(sourceCID)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// SourcePath is where the plaintext of a source lives.
func SourcePath(dir, bareCID string) string {
	return filepath.Join(dir, bareCID)
}

// OutputPath is where the transcoded output of one format lives:
// <dir>/<source file name>_<format id>.<ext>.
func OutputPath(dir, sourcePath string, formatID int, ext string) string {
	name := filepath.Base(sourcePath) + "_" + strconv.Itoa(formatID) + "." + strings.TrimPrefix(ext, ".")
	return filepath.Join(dir, name)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Guard hands out one mutex per directory so writers and the garbage
// collector never work on the same directory at once. A nil Guard never
// blocks.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

// Lock locks dir and returns the matching unlock function.
func (g *Guard) Lock(dir string) func() {
	if g == nil {
		return func() {}
	}
	key := filepath.Clean(dir)
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
