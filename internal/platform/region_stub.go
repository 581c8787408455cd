//go:build !linux && !darwin && !windows

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nmxmxh/memio/internal/core"
	"github.com/nmxmxh/memio/internal/utils"
)

// newPlatformFactory reports the absence of a region implementation.
func newPlatformFactory() (core.Factory, error) {
	return nil, core.ErrPlatformNotSupported()
}

func defaultManifestPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("memio_shared_registry_%d.txt", os.Getpid()))
}

func cleanupOrphans(log *utils.Logger) {}
