package platform

import (
	"runtime"

	"github.com/nmxmxh/memio/internal/core"
)

// Platform identifies the host at runtime.
type Platform int

const (
	Linux Platform = iota
	Android
	MacOS
	Windows
	Unknown
)

// Current returns the platform this process runs on.
func Current() Platform {
	switch runtime.GOOS {
	case "linux":
		return Linux
	case "android":
		return Android
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	default:
		return Unknown
	}
}

// Name returns a human-readable name for the platform.
func (p Platform) Name() string {
	switch p {
	case Linux:
		return "linux"
	case Android:
		return "android"
	case MacOS:
		return "macos"
	case Windows:
		return "windows"
	default:
		return "unknown"
	}
}

func (p Platform) String() string {
	return p.Name()
}

// NewFactory returns the region factory for the current platform, or a
// platform-not-supported error where no implementation exists.
func NewFactory() (core.Factory, error) {
	return newPlatformFactory()
}

// DefaultManifestPath returns the per-process manifest file location for the
// current platform.
func DefaultManifestPath() string {
	return defaultManifestPath()
}
