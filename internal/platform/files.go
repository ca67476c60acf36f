package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

var illegalFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeFilename strips characters that are illegal in file names on the
// supported platforms. Returns "download" when nothing survives.
func SanitizeFilename(name string) string {
	cleaned := illegalFilenameChars.ReplaceAllString(name, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "download"
	}
	return cleaned
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// UniquePath returns a path in dir built from base+ext that does not collide
// with an existing file, appending " (n)" the way desktop file managers do.
func UniquePath(dir, base, ext string) string {
	candidate := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
}

// CheckDiskSpace verifies that path's filesystem has at least minFree bytes
// available before a download is started.
func CheckDiskSpace(path string, minFree uint64) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("stat filesystem %s: %w", path, err)
	}
	if usage.Free < minFree {
		return fmt.Errorf("not enough disk space in %s: %d bytes free, %d required", path, usage.Free, minFree)
	}
	return nil
}
