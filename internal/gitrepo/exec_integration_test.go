//go:build integration

// Run with: go test -tags=integration ./internal/gitrepo/...
package gitrepo_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddki/git-export/internal/gitrepo"
	"github.com/ddki/git-export/internal/gitrepo/gitrepotest"
)

// cliRepo creates repositories with the git executable.
type cliRepo struct {
	t   *testing.T
	dir string
}

func newCLIRepo(t *testing.T) *cliRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &cliRepo{t: t, dir: t.TempDir()}
	r.git("init", "--initial-branch=main")
	r.git("config", "user.email", "test@example.com")
	r.git("config", "user.name", "Test User")
	return r
}

func (r *cliRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func (r *cliRepo) write(name, content string) {
	r.t.Helper()
	path := filepath.Join(r.dir, name)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

func (r *cliRepo) commit(msg, date string) string {
	r.t.Helper()
	r.git("add", "-A")
	cmd := exec.Command("git", "commit", "-m", msg)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	if out, err := cmd.CombinedOutput(); err != nil {
		r.t.Fatalf("git commit failed: %v\n%s", err, out)
	}
	return r.git("rev-parse", "HEAD")
}

func TestBackendsAgree(t *testing.T) {
	r := newCLIRepo(t)
	r.write("readme.md", "v1")
	first := r.commit("first", "2024-01-01T10:00:00Z")
	r.write("readme.md", "v2")
	r.write("src/x.txt", "bin\x00data")
	second := r.commit("second", "2024-01-01T11:00:00Z")

	ctx := context.Background()
	for _, backend := range []gitrepo.Backend{gitrepo.BackendGoGit, gitrepo.BackendExec} {
		t.Run(string(backend), func(t *testing.T) {
			repo, err := gitrepo.Open(ctx, filepath.Join(r.dir, "src"), backend)
			require.NoError(t, err)
			defer repo.Close()

			head, err := repo.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, second, head)

			var ids []string
			require.NoError(t, repo.Walk(ctx, head, func(c *gitrepo.Commit) error {
				ids = append(ids, c.ID)
				return nil
			}))
			assert.Equal(t, []string{second, first}, ids)

			c, err := repo.Commit(ctx, second)
			require.NoError(t, err)
			assert.Equal(t, "Test User", c.AuthorName)
			assert.Equal(t, []string{first}, c.Parents)

			p, err := repo.Commit(ctx, first)
			require.NoError(t, err)

			changes, err := repo.Diff(ctx, p.Tree, c.Tree)
			require.NoError(t, err)
			require.Len(t, changes, 2)

			for _, ch := range changes {
				data, err := repo.Blob(ctx, ch.Blob)
				require.NoError(t, err)
				switch ch.Path {
				case "readme.md":
					assert.Equal(t, gitrepo.Modify, ch.Action)
					assert.Equal(t, "v2", string(data))
				case "src/x.txt":
					assert.Equal(t, gitrepo.Insert, ch.Action)
					assert.Equal(t, "bin\x00data", string(data))
				default:
					t.Errorf("unexpected change %q", ch.Path)
				}
			}
		})
	}
}

func TestBackendsAgreeOnSkewedHistory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	h := gitrepotest.NewDiskBuilder(t, dir).BuildSkewed(
		gitrepotest.Author{Name: "Dev", Email: "dev@example.com"},
		gitrepotest.Author{Name: "Ops", Email: "ops@example.com"},
	)
	want := []string{h.Merge, h.Side, h.Child, h.Parent, h.Root}

	ctx := context.Background()
	for _, backend := range []gitrepo.Backend{gitrepo.BackendGoGit, gitrepo.BackendExec} {
		t.Run(string(backend), func(t *testing.T) {
			repo, err := gitrepo.Open(ctx, dir, backend)
			require.NoError(t, err)
			defer repo.Close()

			var ids []string
			require.NoError(t, repo.Walk(ctx, h.Merge, func(c *gitrepo.Commit) error {
				ids = append(ids, c.ID)
				return nil
			}))
			assert.Equal(t, want, ids)

			full, err := repo.Resolve(ctx, h.Parent[:9])
			require.NoError(t, err)
			assert.Equal(t, h.Parent, full)
		})
	}
}
