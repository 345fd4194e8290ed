package bundler

import (
	"regexp"
	"strings"
)

// hotUpdateMark appears in every incremental hot-update asset name.
const hotUpdateMark = ".hot-update."

// hotUpdateHashPattern matches <name>.<hash>.hot-update.<ext>. All hot-update
// files of a single compilation share the same hash.
var hotUpdateHashPattern = regexp.MustCompile(`\.([^.]+)\.hot-update\.`)

// ReconcileResult partitions a compilation's output into hot-appliable
// deltas and full-reload fallback assets.
type ReconcileResult struct {
	EmittedFiles     []string
	FallbackFiles    []string
	Hash             string
	NextExpectedHash string
	ChainValid       bool
}

// Reconcile decides whether a new incremental compilation forms a valid
// continuation of the previous one. The correlation hash embedded in the
// hot-update file names must match the hash the previous message predicted;
// when it does not (for example a compile in between produced no output and
// the chain skipped a link), every emitted file is returned as needing full
// handling rather than attempting partial recovery.
func Reconcile(allEmittedFiles, chunkFiles []string, nextHash, previousExpectedHash string) ReconcileResult {
	currentHash := hotUpdateHash(allEmittedFiles)

	// An empty nextHash means there is no chain to check.
	valid := nextHash == "" || previousExpectedHash == currentHash

	result := ReconcileResult{
		FallbackFiles:    chunkFiles,
		Hash:             currentHash,
		NextExpectedHash: nextHash,
		ChainValid:       valid,
	}
	if valid {
		result.EmittedFiles = subtract(allEmittedFiles, chunkFiles)
	} else {
		result.EmittedFiles = allEmittedFiles
	}
	return result
}

func hotUpdateHash(files []string) string {
	for _, file := range files {
		if match := hotUpdateHashPattern.FindStringSubmatch(file); match != nil {
			return match[1]
		}
	}
	return ""
}

func subtract(files, excluded []string) []string {
	if len(excluded) == 0 {
		return files
	}
	excludedSet := make(map[string]struct{}, len(excluded))
	for _, file := range excluded {
		excludedSet[file] = struct{}{}
	}
	remaining := make([]string, 0, len(files))
	for _, file := range files {
		if _, ok := excludedSet[file]; !ok {
			remaining = append(remaining, file)
		}
	}
	return remaining
}

func isHotUpdateFile(path string) bool {
	return strings.Contains(path, hotUpdateMark)
}
