package extract

import (
	"path/filepath"
	"strings"
)

// separators maps both slash styles onto the host separator.
var separators = strings.NewReplacer("/", string(filepath.Separator), "\\", string(filepath.Separator))

// RelPath converts a repository path to a host-separated relative path.
// No traversal sanitization is done; repository paths are trusted.
func RelPath(repoPath string) string {
	return filepath.Clean(separators.Replace(repoPath))
}

// DestPath returns where repoPath is written under root.
func DestPath(root, repoPath string) string {
	return filepath.Join(root, RelPath(repoPath))
}
