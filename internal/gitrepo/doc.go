// Package gitrepo provides read-only access to a Git object graph for git-export.
//
// The Repository interface is the only way the rest of git-export reaches
// Git data. It exposes exactly what commit selection and diff extraction
// need: the starting commit, a history walk, commit lookup, tree-to-tree
// diffs and blob content.
//
// # Backends
//
// Two implementations are provided:
//
//	repo, err := gitrepo.Open(ctx, dir, gitrepo.BackendGoGit) // in-process, via go-git
//	repo, err := gitrepo.Open(ctx, dir, gitrepo.BackendExec)  // shells out to the git executable
//
// Both discover the repository by searching upward from dir, and both walk
// history newest-first in topological order: no parent is visited before
// any of its children, even when committer clocks disagree. Ties go to the
// later committer time. Resolve also accepts abbreviated commit ids.
//
// # Error Handling
//
// Failures to open or walk a repository wrap ErrRepository. Lookups of
// objects that do not exist (or are not of the requested kind) wrap
// ErrNotFound, which callers treat as a recoverable miss:
//
//	data, err := repo.Blob(ctx, change.Blob)
//	if errors.Is(err, gitrepo.ErrNotFound) {
//	    // deleted file or submodule entry; skip it
//	}
package gitrepo
