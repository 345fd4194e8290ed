package nativeprep

import (
	"fmt"
	"os"
	"path/filepath"
)

// AddPlatformIfNeeded creates the native project scaffold for a
// platform. Calling it for an existing platform is a no-op.
func (service *Service) AddPlatformIfNeeded(platform string) error {
	if service == nil {
		return fmt.Errorf("nil nativeprep service")
	}
	root := service.PlatformRoot(platform)
	info, err := os.Stat(root)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("platform path %s exists and is not a directory", root)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("inspect platform %s: %w", platformKey(platform), err)
	}

	if err := os.MkdirAll(filepath.Join(root, syncedResourcesDir), 0o755); err != nil {
		return fmt.Errorf("add platform %s: %w", platformKey(platform), err)
	}
	service.logger.Info("platform added", map[string]string{
		"platform": platformKey(platform),
		"root":     root,
	})
	return nil
}

// HasPlatform reports whether the platform scaffold exists.
func (service *Service) HasPlatform(platform string) bool {
	if service == nil {
		return false
	}
	info, err := os.Stat(service.PlatformRoot(platform))
	return err == nil && info.IsDir()
}
