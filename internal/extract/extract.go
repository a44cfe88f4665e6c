// Package extract writes the post-change content of selected commits into an
// export directory mirroring repository paths.
//
// Extraction runs in two phases. The plan phase diffs every selected commit
// against its parent(s) in selection order and records, per destination
// path, the blobs that touched it. The write phase then writes each path
// once, from its most recent resolvable blob, so the outcome equals writing
// every change in order with later commits overwriting earlier ones.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddki/git-export/internal/gitrepo"
	"github.com/ddki/git-export/internal/logging"
)

// ErrDiffComputation indicates a tree diff for a commit/parent pair failed.
var ErrDiffComputation = errors.New("diff computation failed")

// ErrFileSystem indicates a directory or file in the export root could not be written.
var ErrFileSystem = errors.New("filesystem error")

// ErrBadInclude indicates an include pattern that does not compile.
var ErrBadInclude = errors.New("invalid include pattern")

// ParentPolicy selects which parents a commit is diffed against.
type ParentPolicy int

// Parent policies.
const (
	// FirstParent diffs each commit against its first parent only.
	FirstParent ParentPolicy = iota
	// AllParents diffs against every parent in recorded order; later parents win.
	AllParents
)

// DefaultJobs is the number of concurrent writers when Options.Jobs is zero.
const DefaultJobs = 4

// Options configures an Extractor.
type Options struct {
	Parents ParentPolicy
	Include []string // Slash-separated globs; empty exports every path
	Jobs    int
	Logger  *zap.Logger
}

// Result summarizes an extraction.
type Result struct {
	Root    string   `json:"root"`
	Commits int      `json:"commits"`
	Files   []string `json:"files"` // Written paths relative to Root, sorted
	Text    int      `json:"text"`
	Binary  int      `json:"binary"`
	Skipped int      `json:"skipped"` // Changes with no resolvable content
}

// Extractor writes commit content below an export root.
type Extractor struct {
	repo    gitrepo.Repository
	fs      afero.Fs
	root    string
	parents ParentPolicy
	include []glob.Glob
	jobs    int
	logger  *zap.Logger

	// Repository reads are serialized; go-git object storage is not safe for concurrent use.
	repoMu sync.Mutex
}

// New creates an Extractor writing below root on fs.
func New(repo gitrepo.Repository, fs afero.Fs, root string, opts Options) (*Extractor, error) {
	include := make([]glob.Glob, 0, len(opts.Include))
	for _, pattern := range opts.Include {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrBadInclude, pattern, err)
		}
		include = append(include, g)
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = DefaultJobs
	}
	logger := logging.OrNop(opts.Logger)

	return &Extractor{
		repo:    repo,
		fs:      fs,
		root:    root,
		parents: opts.Parents,
		include: include,
		jobs:    jobs,
		logger:  logger,
	}, nil
}

// candidate is one blob that wrote a destination path.
type candidate struct {
	repoPath string
	blob     string
	commit   string
}

// plan maps destination paths (relative to root) to their candidates in
// selection order.
type plan map[string][]candidate

// Run extracts the given commits, which must be ordered oldest first.
func (e *Extractor) Run(ctx context.Context, commits []*gitrepo.Commit) (*Result, error) {
	if err := e.fs.MkdirAll(e.root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrFileSystem, e.root, err)
	}

	res := &Result{Root: e.root, Commits: len(commits)}
	p := make(plan)
	for _, c := range commits {
		if err := e.planCommit(ctx, c, p, res); err != nil {
			return nil, err
		}
	}

	if err := e.write(ctx, p, res); err != nil {
		return nil, err
	}
	sort.Strings(res.Files)
	return res, nil
}

// planCommit diffs a commit against its parents and records its changes.
func (e *Extractor) planCommit(ctx context.Context, c *gitrepo.Commit, p plan, res *Result) error {
	parents := c.Parents
	if e.parents == FirstParent && len(parents) > 1 {
		parents = parents[:1]
	}
	if len(parents) == 0 {
		e.logger.Debug("skipping root commit", zap.String("commit", c.ID))
		return nil
	}

	for _, parentID := range parents {
		if err := ctx.Err(); err != nil {
			return err
		}
		changes, err := e.diff(ctx, parentID, c)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			e.record(c, ch, p, res)
		}
	}
	return nil
}

// diff computes the changes between a parent and the commit.
func (e *Extractor) diff(ctx context.Context, parentID string, c *gitrepo.Commit) ([]gitrepo.Change, error) {
	parent, err := e.repo.Commit(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s parent %s: %w", ErrDiffComputation, c.Short(), parentID, err)
	}
	changes, err := e.repo.Diff(ctx, parent.Tree, c.Tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %s against %s: %w", ErrDiffComputation, c.Short(), parent.Short(), err)
	}
	return changes, nil
}

// record adds a change to the plan, skipping deletions and excluded paths.
func (e *Extractor) record(c *gitrepo.Commit, ch gitrepo.Change, p plan, res *Result) {
	if ch.Path == "" {
		e.logger.Warn("change without a path", zap.String("commit", c.ID))
		res.Skipped++
		return
	}
	if !e.included(ch.Path) {
		return
	}
	if ch.Blob == "" {
		e.logger.Debug("no content for change", zap.String("commit", c.Short()),
			zap.String("path", ch.Path), zap.Stringer("action", ch.Action))
		res.Skipped++
		return
	}

	rel := RelPath(ch.Path)
	p[rel] = append(p[rel], candidate{repoPath: ch.Path, blob: ch.Blob, commit: c.ID})
}

// included reports whether a repository path passes the include globs.
func (e *Extractor) included(repoPath string) bool {
	if len(e.include) == 0 {
		return true
	}
	normalized := strings.ReplaceAll(repoPath, "\\", "/")
	for _, g := range e.include {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}

// write materializes every planned path with bounded parallelism.
func (e *Extractor) write(ctx context.Context, p plan, res *Result) error {
	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.jobs)

	for rel, cands := range p {
		group.Go(func() error {
			kind, ok, err := e.writePath(ctx, rel, cands)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case !ok:
				res.Skipped++
			case kind == Text:
				res.Files = append(res.Files, rel)
				res.Text++
			default:
				res.Files = append(res.Files, rel)
				res.Binary++
			}
			return nil
		})
	}
	return group.Wait()
}

// writePath writes the newest resolvable candidate for one destination.
// It reports false when no candidate could be resolved.
func (e *Extractor) writePath(ctx context.Context, rel string, cands []candidate) (Kind, bool, error) {
	for i := len(cands) - 1; i >= 0; i-- {
		cand := cands[i]
		data, err := e.blob(ctx, cand.blob)
		if errors.Is(err, gitrepo.ErrNotFound) {
			e.logger.Debug("no content for change", zap.String("commit", cand.commit),
				zap.String("path", cand.repoPath), zap.Error(err))
			continue
		}
		if err != nil {
			return 0, false, err
		}

		content := Classify(data)
		if err := e.writeFile(filepath.Join(e.root, rel), content); err != nil {
			return 0, false, err
		}
		e.logger.Debug("wrote file", zap.String("path", rel),
			zap.Stringer("kind", content.Kind), zap.String("commit", cand.commit))
		return content.Kind, true, nil
	}
	return 0, false, nil
}

func (e *Extractor) blob(ctx context.Context, id string) ([]byte, error) {
	e.repoMu.Lock()
	defer e.repoMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.repo.Blob(ctx, id)
}

// writeFile creates the destination's parent directories and writes content in one call.
func (e *Extractor) writeFile(dest string, content Content) error {
	if err := e.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %w", ErrFileSystem, dest, err)
	}
	if err := afero.WriteFile(e.fs, dest, content.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrFileSystem, dest, err)
	}
	return nil
}
