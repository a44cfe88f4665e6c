package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRepository indicates the repository could not be opened or its history walked.
var ErrRepository = errors.New("repository error")

// ErrNotFound indicates an object id did not resolve to an object of the requested kind.
var ErrNotFound = errors.New("object not found")

// Backend names a Repository implementation.
type Backend string

// Supported backends.
const (
	BackendGoGit Backend = "go-git"
	BackendExec  Backend = "exec"
)

// Action describes how a path changed between two trees.
type Action int

// Change actions.
const (
	Insert Action = iota + 1
	Modify
	Delete
)

// String returns the single-letter status git uses for the action.
func (a Action) String() string {
	switch a {
	case Insert:
		return "A"
	case Modify:
		return "M"
	case Delete:
		return "D"
	default:
		return "?"
	}
}

// Commit is an immutable snapshot of commit metadata.
type Commit struct {
	ID          string    // Full 40-character SHA
	Message     string    // Full commit message (may be empty)
	AuthorName  string    // Author name
	AuthorEmail string    // Author email
	When        time.Time // Committer date
	Parents     []string  // Parent SHAs in recorded order
	Tree        string    // Root tree SHA
}

// Short returns the abbreviated commit id.
func (c *Commit) Short() string {
	if len(c.ID) > 7 {
		return c.ID[:7]
	}
	return c.ID
}

// Change is one entry of a tree-to-tree diff.
type Change struct {
	Path   string // Slash-separated path within the tree
	Action Action
	Blob   string // Post-change blob id; empty when the path was deleted
}

// WalkFunc is called for each commit during a history walk.
// Returning ErrStopWalk ends the walk without error.
type WalkFunc func(*Commit) error

// ErrStopWalk can be returned from a WalkFunc to stop walking early.
var ErrStopWalk = errors.New("stop walk")

// Repository is a read-only handle on a Git object graph.
type Repository interface {
	// Head returns the commit id the current branch points to.
	Head(ctx context.Context) (string, error)
	// Resolve turns a revision (branch, tag, SHA, HEAD) into a commit id.
	Resolve(ctx context.Context, rev string) (string, error)
	// Walk visits commits reachable from id, newest first.
	Walk(ctx context.Context, id string, fn WalkFunc) error
	// Commit returns the commit with the given id.
	Commit(ctx context.Context, id string) (*Commit, error)
	// Diff returns the changes that turn tree from into tree to.
	Diff(ctx context.Context, from, to string) ([]Change, error)
	// Blob returns the content of the blob with the given id.
	Blob(ctx context.Context, id string) ([]byte, error)
	// Close releases resources held by the handle.
	Close() error
}

// Open opens the repository containing dir using the given backend.
// An empty backend selects go-git.
func Open(ctx context.Context, dir string, backend Backend) (Repository, error) {
	switch backend {
	case BackendGoGit, "":
		return OpenGoGit(dir)
	case BackendExec:
		return OpenExec(ctx, dir)
	default:
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", backend, BackendGoGit, BackendExec)
	}
}
