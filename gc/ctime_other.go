//go:build !linux

package gc

import (
	"os"
	"time"
)

func createdAt(path string, info os.FileInfo) time.Time {
	return info.ModTime()
}
