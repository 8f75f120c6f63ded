//go:build !linux && !darwin && !windows

package filesystem

import (
	"io/fs"
	"time"
)

// birthTime is unavailable here; callers fall back to the modification time.
func birthTime(string, fs.FileInfo) time.Time {
	return time.Time{}
}
