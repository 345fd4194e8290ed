// Package nativeprep stages platform-specific native resources before a
// build. It implements the collaborator contracts the prepare
// orchestrator depends on: platform scaffolding and native resource
// sync with self-write tracking.
package nativeprep

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/logging"
	"loom/internal/nativewatch"
)

const (
	defaultResourcesDir = "app/App_Resources"
	defaultPlatformsDir = "platforms"
	syncedResourcesDir  = "app_resources"
)

// Options configures a Service.
type Options struct {
	ProjectDir string

	// ResourcesDir holds per-platform resource trees, relative to
	// ProjectDir. Defaults to app/App_Resources.
	ResourcesDir string

	// PlatformsDir holds per-platform native projects, relative to
	// ProjectDir. Defaults to platforms.
	PlatformsDir string

	Logger *logging.Logger
	Ignore *nativewatch.IgnoreList
}

// Service syncs native resources into platform directories. Every file
// it writes or removes is recorded in the ignore list so an armed
// watcher does not report the sync back as a native change.
type Service struct {
	projectDir   string
	resourcesDir string
	platformsDir string
	logger       *logging.Logger
	ignore       *nativewatch.IgnoreList
}

// NewService creates a Service rooted at options.ProjectDir.
func NewService(options Options) *Service {
	resourcesDir := options.ResourcesDir
	if resourcesDir == "" {
		resourcesDir = defaultResourcesDir
	}
	platformsDir := options.PlatformsDir
	if platformsDir == "" {
		platformsDir = defaultPlatformsDir
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	return &Service{
		projectDir:   options.ProjectDir,
		resourcesDir: resourcesDir,
		platformsDir: platformsDir,
		logger:       logger,
		ignore:       options.Ignore,
	}
}

// PlatformRoot returns the native project directory for a platform.
func (service *Service) PlatformRoot(platform string) string {
	return filepath.Join(service.projectDir, service.platformsDir, platformKey(platform))
}

// ResourceRoot returns the source resource tree for a platform.
func (service *Service) ResourceRoot(platform string) string {
	return filepath.Join(service.projectDir, service.resourcesDir, resourceDirName(platform))
}

// PrepareNativePlatform syncs the platform's resource tree into its
// native project directory and reports whether anything changed on
// disk. A missing resource tree is not an error; it syncs as empty.
func (service *Service) PrepareNativePlatform(ctx context.Context, platform string) (bool, error) {
	if service == nil {
		return false, fmt.Errorf("nil nativeprep service")
	}
	source := service.ResourceRoot(platform)
	target := filepath.Join(service.PlatformRoot(platform), syncedResourcesDir)

	if err := os.MkdirAll(target, 0o755); err != nil {
		return false, fmt.Errorf("create resource target: %w", err)
	}

	wanted := make(map[string]struct{})
	changed := false

	err := filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == source && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		destination := filepath.Join(target, relative)
		if entry.IsDir() {
			return os.MkdirAll(destination, 0o755)
		}
		wanted[relative] = struct{}{}
		wrote, err := service.syncFile(path, destination)
		if err != nil {
			return err
		}
		if wrote {
			changed = true
		}
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("sync native resources for %s: %w", platformKey(platform), err)
	}

	removed, err := service.removeOrphans(target, wanted)
	if err != nil {
		return changed, err
	}
	if removed {
		changed = true
	}

	service.logger.Debug("native prepare finished", map[string]string{
		"platform": platformKey(platform),
		"changed":  fmt.Sprintf("%t", changed),
	})
	return changed, nil
}

func (service *Service) syncFile(source, destination string) (bool, error) {
	content, err := os.ReadFile(source)
	if err != nil {
		return false, err
	}
	existing, err := os.ReadFile(destination)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	service.ignore.AddFile(destination)
	if err := os.WriteFile(destination, content, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (service *Service) removeOrphans(target string, wanted map[string]struct{}) (bool, error) {
	removed := false
	err := filepath.WalkDir(target, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(target, path)
		if err != nil {
			return err
		}
		if _, keep := wanted[relative]; keep {
			return nil
		}
		service.ignore.AddFile(path)
		if err := os.Remove(path); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("prune synced resources: %w", err)
	}
	return removed, nil
}

func platformKey(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

func resourceDirName(platform string) string {
	switch platformKey(platform) {
	case "ios":
		return "iOS"
	case "android":
		return "Android"
	default:
		return strings.TrimSpace(platform)
	}
}
