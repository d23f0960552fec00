//go:build windows

package target

import (
	"os"
	"time"
)

// replace renames over dest. Windows refuses while another process holds
// dest open, which happens briefly after the executable exits, so the
// rename is retried a few times.
func replace(tmpPath, dest string) error {
	var err error
	for range 5 {
		if err = os.Rename(tmpPath, dest); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

// syncDir is a no-op; directories cannot be fsynced on Windows.
func syncDir(string) error {
	return nil
}
