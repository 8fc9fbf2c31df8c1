package pipeline

import (
	"os"

	"github.com/apex/log"
)

// withScratchDir runs fn with a fresh private scratch directory. Removal
// is guaranteed on every exit path (success, validation failure,
// mid-pipeline error) unless keep is set, in which case the directory is
// retained and its location logged.
func withScratchDir(keep bool, fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", "aprepack")
	if err != nil {
		return err
	}
	defer func() {
		if keep {
			log.Infof("keeping scratch directory %s", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("removing scratch directory: %v", err)
		}
	}()
	return fn(dir)
}
