package watcher

import (
	"io/fs"
	"path/filepath"
)

// watchSubtree registers every directory below root with the backing
// fsnotify watcher. Native resource trees nest arbitrarily deep, and
// inotify only reports events for directories explicitly added, so each
// subdirectory gets its own refcounted watch. On failure every watch
// acquired so far is released again.
func (watcher *Watcher) watchSubtree(root string) ([]string, error) {
	if watcher == nil || !watcher.watchRecursive {
		return nil, nil
	}
	dirs, err := subdirectories(root)
	if err != nil {
		return nil, err
	}

	acquired := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if err := watcher.acquireDirWatch(dir); err != nil {
			watcher.releaseDirWatches(acquired)
			return nil, err
		}
		acquired = append(acquired, dir)
	}
	return acquired, nil
}

// subdirectories walks root and returns every directory strictly below
// it. Unreadable entries are skipped rather than failing the walk.
func subdirectories(root string) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil || !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// acquireDirWatch takes a reference on the directory's watch, creating
// the fsnotify watch when this is the first reference.
func (watcher *Watcher) acquireDirWatch(dir string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	if watcher.hasWatchLocked(dir) {
		watcher.treeWatches[dir]++
		watcher.mutex.Unlock()
		return nil
	}
	if watcher.activeWatches >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	watcher.treeWatches[dir] = 1
	watcher.activeWatches++
	activeCount := watcher.activeWatches
	backing := watcher.watcher
	watcher.mutex.Unlock()

	if backing == nil {
		watcher.releaseBookkeeping(dir)
		return nil
	}
	if err := backing.Add(dir); err != nil {
		watcher.releaseBookkeeping(dir)
		watcher.logWarn("watch add failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return err
	}
	watcher.logDebug("watch added", dir, activeCount)
	return nil
}

func (watcher *Watcher) releaseDirWatches(dirs []string) {
	if watcher == nil {
		return
	}
	for _, dir := range dirs {
		watcher.releaseDirWatch(dir)
	}
}

// releaseDirWatch drops one reference on the directory's watch and
// removes the backing fsnotify watch once the last reference is gone,
// unless direct callbacks still target the directory.
func (watcher *Watcher) releaseDirWatch(dir string) {
	if watcher == nil {
		return
	}

	watcher.mutex.Lock()
	if !watcher.lastReferenceLocked(dir) {
		watcher.mutex.Unlock()
		return
	}
	delete(watcher.treeWatches, dir)
	if len(watcher.callbacks[dir]) > 0 {
		watcher.mutex.Unlock()
		return
	}
	if watcher.activeWatches > 0 {
		watcher.activeWatches--
	}
	activeCount := watcher.activeWatches
	backing := watcher.watcher
	watcher.mutex.Unlock()

	if backing == nil {
		return
	}
	if err := backing.Remove(dir); err != nil {
		watcher.logWarn("watch remove failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	watcher.logDebug("watch removed", dir, activeCount)
}

// releaseBookkeeping undoes the accounting of a watch that never made it
// into the backing watcher.
func (watcher *Watcher) releaseBookkeeping(dir string) {
	watcher.mutex.Lock()
	if watcher.lastReferenceLocked(dir) {
		delete(watcher.treeWatches, dir)
		if watcher.activeWatches > 0 {
			watcher.activeWatches--
		}
	}
	watcher.mutex.Unlock()
}

// lastReferenceLocked decrements the refcount when more than one holder
// remains and reports whether the caller held the final reference.
func (watcher *Watcher) lastReferenceLocked(dir string) bool {
	count := watcher.treeWatches[dir]
	switch {
	case count > 1:
		watcher.treeWatches[dir] = count - 1
		return false
	case count == 1:
		return true
	default:
		return false
	}
}

func (watcher *Watcher) hasWatchLocked(dir string) bool {
	if watcher == nil {
		return false
	}
	return len(watcher.callbacks[dir]) > 0 || watcher.treeWatches[dir] > 0
}
