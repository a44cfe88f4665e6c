// Package gitrepotest provides repository fixtures for tests.
//
// Builder creates real commits in an in-memory go-git repository; Fake is a
// hand-assembled gitrepo.Repository for cases real Git cannot produce, such
// as diff failures.
package gitrepotest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ddki/git-export/internal/gitrepo"
)

// Author identifies who made a fixture commit.
type Author struct {
	Name  string
	Email string
}

// Builder creates commits in an in-memory repository.
// Each commit is timestamped one hour after the previous one.
type Builder struct {
	t    testing.TB
	repo *git.Repository
	fs   billy.Filesystem
	wt   *git.Worktree
	when time.Time
}

// NewBuilder initializes an empty in-memory repository.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return newBuilder(t, repo)
}

// NewDiskBuilder initializes an empty repository with a worktree at dir,
// for tests that open the repository by path.
func NewDiskBuilder(t testing.TB, dir string) *Builder {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repository at %s: %v", dir, err)
	}
	return newBuilder(t, repo)
}

func newBuilder(t testing.TB, repo *git.Repository) *Builder {
	t.Helper()

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("open worktree: %v", err)
	}
	return &Builder{
		t:    t,
		repo: repo,
		fs:   wt.Filesystem,
		wt:   wt,
		when: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// At timestamps the next commit at when; later commits continue hourly
// from there. Use it to build histories with skewed clocks.
func (b *Builder) At(when time.Time) *Builder {
	b.when = when.Add(-time.Hour)
	return b
}

// Write stages a file with the given content.
func (b *Builder) Write(path string, content []byte) *Builder {
	b.t.Helper()

	if err := util.WriteFile(b.fs, path, content, 0o644); err != nil {
		b.t.Fatalf("write %s: %v", path, err)
	}
	if _, err := b.wt.Add(path); err != nil {
		b.t.Fatalf("stage %s: %v", path, err)
	}
	return b
}

// WriteString stages a text file.
func (b *Builder) WriteString(path, content string) *Builder {
	b.t.Helper()
	return b.Write(path, []byte(content))
}

// Remove stages the deletion of a file.
func (b *Builder) Remove(path string) *Builder {
	b.t.Helper()

	if _, err := b.wt.Remove(path); err != nil {
		b.t.Fatalf("remove %s: %v", path, err)
	}
	return b
}

// Commit records the staged changes on top of HEAD and returns the new SHA.
func (b *Builder) Commit(message string, author Author) string {
	b.t.Helper()
	return b.commit(message, author, nil)
}

// Merge records the staged changes as a commit with the given parents.
func (b *Builder) Merge(message string, author Author, parents ...string) string {
	b.t.Helper()

	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, plumbing.NewHash(p))
	}
	return b.commit(message, author, hashes)
}

// Checkout moves the worktree and HEAD to the given commit.
func (b *Builder) Checkout(sha string) *Builder {
	b.t.Helper()

	err := b.wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha), Force: true})
	if err != nil {
		b.t.Fatalf("checkout %s: %v", sha, err)
	}
	return b
}

// SkewedHistory holds the ids of a history whose committer clocks disagree
// with its topology.
type SkewedHistory struct {
	Root   string
	Parent string // writes f = "parent"; timestamped after Child and Side
	Child  string // child of Parent, writes f = "child"
	Side   string // branched off Parent, writes g = "side"
	Merge  string // merges Side and Child; HEAD
}

// BuildSkewed records root -> parent -> child, a side commit off parent and
// a merge of side and child. dev authors parent and child, other the rest.
func (b *Builder) BuildSkewed(dev, other Author) SkewedHistory {
	b.t.Helper()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var h SkewedHistory
	h.Root = b.At(base).WriteString("f", "root").Commit("root", other)
	h.Parent = b.At(base.Add(200*time.Minute)).WriteString("f", "parent").Commit("parent", dev)
	h.Child = b.At(base.Add(50*time.Minute)).WriteString("f", "child").Commit("child", dev)
	b.Checkout(h.Parent)
	h.Side = b.At(base.Add(100*time.Minute)).WriteString("g", "side").Commit("side", other)
	h.Merge = b.At(base.Add(300*time.Minute)).Merge("merge", other, h.Side, h.Child)
	return h
}

// Repository returns the fixture wrapped as a gitrepo.Repository.
func (b *Builder) Repository() *gitrepo.GoGit {
	return gitrepo.NewGoGit(b.repo)
}

func (b *Builder) commit(message string, author Author, parents []plumbing.Hash) string {
	b.t.Helper()

	b.when = b.when.Add(time.Hour)
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: b.when}
	hash, err := b.wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		Parents:           parents,
		AllowEmptyCommits: true,
	})
	if err != nil {
		b.t.Fatalf("commit %q: %v", message, err)
	}
	return hash.String()
}

// Fake is a hand-assembled Repository.
// Commits are walked newest first, in reverse order of AddCommit calls.
type Fake struct {
	HeadID  string
	Blobs   map[string][]byte
	DiffErr map[string]error // keyed by the "to" tree id

	commits map[string]*gitrepo.Commit
	order   []string
	diffs   map[[2]string][]gitrepo.Change
}

// NewFake creates an empty fake repository.
func NewFake() *Fake {
	return &Fake{
		Blobs:   make(map[string][]byte),
		DiffErr: make(map[string]error),
		commits: make(map[string]*gitrepo.Commit),
		diffs:   make(map[[2]string][]gitrepo.Change),
	}
}

// AddCommit registers a commit and makes it HEAD.
func (f *Fake) AddCommit(c *gitrepo.Commit) {
	f.commits[c.ID] = c
	f.order = append(f.order, c.ID)
	f.HeadID = c.ID
}

// SetDiff registers the changes between two trees.
func (f *Fake) SetDiff(from, to string, changes ...gitrepo.Change) {
	f.diffs[[2]string{from, to}] = changes
}

// Head returns the most recently added commit.
func (f *Fake) Head(_ context.Context) (string, error) {
	if f.HeadID == "" {
		return "", fmt.Errorf("%w: empty repository", gitrepo.ErrRepository)
	}
	return f.HeadID, nil
}

// Resolve accepts HEAD or a known commit id.
func (f *Fake) Resolve(ctx context.Context, rev string) (string, error) {
	if rev == "HEAD" {
		return f.Head(ctx)
	}
	if _, ok := f.commits[rev]; ok {
		return rev, nil
	}
	return "", fmt.Errorf("%w: unknown revision %s", gitrepo.ErrRepository, rev)
}

// Walk visits commits added at or before id, newest first.
func (f *Fake) Walk(ctx context.Context, id string, fn gitrepo.WalkFunc) error {
	start := -1
	for i, cid := range f.order {
		if cid == id {
			start = i
		}
	}
	if start < 0 {
		return fmt.Errorf("%w: unknown commit %s", gitrepo.ErrRepository, id)
	}
	for i := start; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(f.commits[f.order[i]]); err != nil {
			if errors.Is(err, gitrepo.ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Commit returns a registered commit.
func (f *Fake) Commit(_ context.Context, id string) (*gitrepo.Commit, error) {
	c, ok := f.commits[id]
	if !ok {
		return nil, fmt.Errorf("%w: commit %s", gitrepo.ErrNotFound, id)
	}
	return c, nil
}

// Diff returns the registered changes, or the registered error for the target tree.
func (f *Fake) Diff(_ context.Context, from, to string) ([]gitrepo.Change, error) {
	if err, ok := f.DiffErr[to]; ok {
		return nil, err
	}
	return f.diffs[[2]string{from, to}], nil
}

// Blob returns registered blob content.
func (f *Fake) Blob(_ context.Context, id string) ([]byte, error) {
	data, ok := f.Blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", gitrepo.ErrNotFound, id)
	}
	return data, nil
}

// Close does nothing.
func (f *Fake) Close() error {
	return nil
}
