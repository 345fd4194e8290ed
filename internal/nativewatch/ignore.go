package nativewatch

import (
	"path/filepath"
	"sync"
)

// IgnoreList tracks files written by the prepare step itself so the
// watcher does not report them back as native changes.
type IgnoreList struct {
	mutex sync.Mutex
	paths map[string]struct{}
}

// NewIgnoreList creates an empty ignore list.
func NewIgnoreList() *IgnoreList {
	return &IgnoreList{
		paths: make(map[string]struct{}),
	}
}

// AddFile records a path as self-inflicted.
func (list *IgnoreList) AddFile(path string) {
	if list == nil || path == "" {
		return
	}
	list.mutex.Lock()
	list.paths[filepath.Clean(path)] = struct{}{}
	list.mutex.Unlock()
}

// IsFileInIgnoreList reports whether a path was recorded via AddFile.
func (list *IgnoreList) IsFileInIgnoreList(path string) bool {
	if list == nil || path == "" {
		return false
	}
	list.mutex.Lock()
	_, found := list.paths[filepath.Clean(path)]
	list.mutex.Unlock()
	return found
}

// Len reports the number of recorded paths.
func (list *IgnoreList) Len() int {
	if list == nil {
		return 0
	}
	list.mutex.Lock()
	defer list.mutex.Unlock()
	return len(list.paths)
}
