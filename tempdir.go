package fieldcam

import (
	"os"
)

// TempDir returns a new temporary directory for frame files, in /dev/shm if
// it exists, and otherwise in the OS default temporary directory.
// Callers remove the directory when done.
func TempDir() (string, error) {
	// Frames are written and read back many times a second, keep them in
	// memory when possible. Check that /dev/shm exists first, we never want
	// to create a directory in /dev.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "fieldcam")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "fieldcam")
}
