//go:build windows || plan9

package filecache

import (
	"os"
	"path/filepath"
)

// Key is the cache key. Systems without stable inode numbers (Windows,
// plan9) key by the cleaned absolute path instead.
type Key struct {
	Path string
}

// KeyFor derives a Key from an absolute or relative file path.
func KeyFor(path string, _ os.FileInfo) Key {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Key{Path: filepath.Clean(abs)}
}
