package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

const (
	// minPrefixLen is the shortest abbreviated commit id Resolve expands.
	minPrefixLen = 4
	hashHexLen   = 40
)

// GoGit is a Repository backed by go-git.
type GoGit struct {
	repo *git.Repository
}

// OpenGoGit opens the repository containing dir, searching parent
// directories for the .git directory.
func OpenGoGit(dir string) (*GoGit, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrRepository, dir, err)
	}
	return NewGoGit(repo), nil
}

// NewGoGit wraps an already opened go-git repository.
// Tests use it with in-memory storage.
func NewGoGit(repo *git.Repository) *GoGit {
	return &GoGit{repo: repo}
}

// Head returns the commit id HEAD points to.
func (g *GoGit) Head(_ context.Context) (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: resolving HEAD: %w", ErrRepository, err)
	}
	return ref.Hash().String(), nil
}

// Resolve turns a revision into a commit id. Abbreviated commit ids are
// expanded when they identify exactly one commit.
func (g *GoGit) Resolve(_ context.Context, rev string) (string, error) {
	hash, err := g.repo.ResolveRevision(plumbing.Revision(rev))
	if err == nil {
		return hash.String(), nil
	}
	if full, ok := g.expandPrefix(rev); ok {
		return full, nil
	}
	return "", fmt.Errorf("%w: resolving %s: %w", ErrRepository, rev, err)
}

// expandPrefix finds the single commit whose id starts with prefix.
func (g *GoGit) expandPrefix(prefix string) (string, bool) {
	prefix = strings.ToLower(prefix)
	if len(prefix) < minPrefixLen || len(prefix) >= hashHexLen || !isHex(prefix) {
		return "", false
	}
	iter, err := g.repo.CommitObjects()
	if err != nil {
		return "", false
	}
	defer iter.Close()

	var found string
	ambiguous := false
	_ = iter.ForEach(func(c *object.Commit) error {
		if id := c.Hash.String(); strings.HasPrefix(id, prefix) {
			if found != "" {
				ambiguous = true
				return storer.ErrStop
			}
			found = id
		}
		return nil
	})
	return found, found != "" && !ambiguous
}

// Walk visits commits reachable from id newest first, never emitting a
// commit before all of its reachable children. Among commits whose
// children have all been visited, the latest committer time goes first.
func (g *GoGit) Walk(ctx context.Context, id string, fn WalkFunc) error {
	start := plumbing.NewHash(id)
	commits, err := g.reachable(ctx, start)
	if err != nil {
		return err
	}

	// children counts the unvisited reachable children of each commit.
	children := make(map[plumbing.Hash]int, len(commits))
	for _, c := range commits {
		for _, p := range c.ParentHashes {
			if _, ok := commits[p]; ok {
				children[p]++
			}
		}
	}

	ready := binaryheap.NewWith(newestFirst)
	for hash, c := range commits {
		if children[hash] == 0 {
			ready.Push(c)
		}
	}

	for !ready.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, _ := ready.Pop()
		c := v.(*object.Commit)
		if err := fn(fromObject(c)); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
		for _, p := range c.ParentHashes {
			parent, ok := commits[p]
			if !ok {
				continue
			}
			children[p]--
			if children[p] == 0 {
				ready.Push(parent)
			}
		}
	}
	return nil
}

// reachable loads every commit reachable from start.
func (g *GoGit) reachable(ctx context.Context, start plumbing.Hash) (map[plumbing.Hash]*object.Commit, error) {
	iter, err := g.repo.Log(&git.LogOptions{From: start})
	if err != nil {
		return nil, fmt.Errorf("%w: walking from %s: %w", ErrRepository, start, err)
	}
	defer iter.Close()

	commits := make(map[plumbing.Hash]*object.Commit)
	var ctxErr error
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			return err
		}
		commits[c.Hash] = c
		return nil
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: walking from %s: %w", ErrRepository, start, err)
	}
	return commits, nil
}

// newestFirst orders commits by committer time, latest first, then by id
// so equal timestamps still give a stable order.
func newestFirst(a, b any) int {
	ca, cb := a.(*object.Commit), b.(*object.Commit)
	switch {
	case ca.Committer.When.After(cb.Committer.When):
		return -1
	case ca.Committer.When.Before(cb.Committer.When):
		return 1
	default:
		return strings.Compare(ca.Hash.String(), cb.Hash.String())
	}
}

// Commit returns the commit with the given id.
func (g *GoGit) Commit(_ context.Context, id string) (*Commit, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: commit %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: reading commit %s: %w", ErrRepository, id, err)
	}
	return fromObject(c), nil
}

// Diff returns the changes between two trees. An empty id stands for the empty tree.
func (g *GoGit) Diff(ctx context.Context, from, to string) ([]Change, error) {
	fromTree, err := g.tree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := g.tree(to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, nil)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", from, to, err)
	}

	out := make([]Change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("diffing %s..%s: %w", from, to, err)
		}
		out = append(out, convertChange(ch, action))
	}
	return out, nil
}

// Blob returns the content of a blob.
func (g *GoGit) Blob(_ context.Context, id string) ([]byte, error) {
	if id == "" || plumbing.NewHash(id).IsZero() {
		return nil, fmt.Errorf("%w: empty blob id", ErrNotFound)
	}
	blob, err := g.repo.BlobObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: reading blob %s: %w", ErrRepository, id, err)
	}

	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %w", ErrRepository, id, err)
	}
	defer reader.Close() //nolint:errcheck // read-only object reader

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %w", ErrRepository, id, err)
	}
	return data, nil
}

// Close is a no-op; go-git holds no handles that need releasing for reads.
func (g *GoGit) Close() error {
	return nil
}

// tree loads a tree object, returning nil for the empty id.
func (g *GoGit) tree(id string) (*object.Tree, error) {
	if id == "" {
		return nil, nil
	}
	tree, err := g.repo.TreeObject(plumbing.NewHash(id))
	if err != nil {
		return nil, fmt.Errorf("reading tree %s: %w", id, err)
	}
	return tree, nil
}

// convertChange maps a go-git change onto a Change.
func convertChange(ch *object.Change, action merkletrie.Action) Change {
	switch action {
	case merkletrie.Delete:
		return Change{Path: ch.From.Name, Action: Delete}
	case merkletrie.Insert:
		return Change{Path: ch.To.Name, Action: Insert, Blob: ch.To.TreeEntry.Hash.String()}
	default:
		return Change{Path: ch.To.Name, Action: Modify, Blob: ch.To.TreeEntry.Hash.String()}
	}
}

// fromObject copies the fields git-export needs out of a go-git commit.
func fromObject(c *object.Commit) *Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		ID:          c.Hash.String(),
		Message:     c.Message,
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		When:        c.Committer.When,
		Parents:     parents,
		Tree:        c.TreeHash.String(),
	}
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
