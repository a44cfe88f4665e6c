package gitrepo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// emptyTreeSHA is the SHA of git's empty tree object.
// Used when diffing from a root commit (which has no parent).
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// fieldSeparator delimits fields within a commit record (ASCII unit separator).
const fieldSeparator = "\x1f"

// recordSeparator terminates each commit record (ASCII record separator).
const recordSeparator = '\x1e'

// commitFormat is the git log --format used to read commit records.
// Fields: SHA, tree, parents, author name, author email, committer time, raw message.
var commitFormat = "format:" + strings.Join([]string{
	"%H",  // Full SHA
	"%T",  // Tree SHA
	"%P",  // Parent SHAs, space separated
	"%an", // Author name
	"%ae", // Author email
	"%ct", // Committer Unix timestamp
	"%B",  // Raw message
}, "%x1f") + "%x1e"

// maxRecordSize bounds a single commit record read from git log.
const maxRecordSize = 64 << 20

// Exec is a Repository backed by the git executable.
type Exec struct {
	dir string
}

// OpenExec locates the repository containing dir using git itself.
func OpenExec(ctx context.Context, dir string) (*Exec, error) {
	probe := &Exec{dir: dir}
	root, err := probe.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrRepository, dir, err)
	}
	return &Exec{dir: root}, nil
}

// Dir returns the repository root the backend runs git in.
func (e *Exec) Dir() string {
	return e.dir
}

// Head returns the full SHA of the current HEAD commit.
func (e *Exec) Head(ctx context.Context) (string, error) {
	sha, err := e.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: resolving HEAD: %w", ErrRepository, err)
	}
	return sha, nil
}

// Resolve turns a revision into a commit id.
func (e *Exec) Resolve(ctx context.Context, rev string) (string, error) {
	sha, err := e.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %w", ErrRepository, rev, err)
	}
	return sha, nil
}

// Walk streams git log --date-order from id and calls fn for each commit.
func (e *Exec) Walk(ctx context.Context, id string, fn WalkFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := e.command(ctx, "log", "--date-order", "--format="+commitFormat, id)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: walking from %s: %w", ErrRepository, id, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: walking from %s: %w", ErrRepository, id, wrapExecErr(err, &stderr))
	}

	walkErr := scanRecords(stdout, fn)
	if walkErr != nil {
		// Stop git early; its exit status no longer matters.
		cancel()
		_, _ = io.Copy(io.Discard, stdout)
		_ = cmd.Wait()
		if errors.Is(walkErr, ErrStopWalk) {
			return nil
		}
		return walkErr
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: walking from %s: %w", ErrRepository, id, wrapExecErr(err, &stderr))
	}
	return nil
}

// Commit returns the commit with the given id.
func (e *Exec) Commit(ctx context.Context, id string) (*Commit, error) {
	if _, err := e.run(ctx, "cat-file", "-e", id+"^{commit}"); err != nil {
		return nil, fmt.Errorf("%w: commit %s", ErrNotFound, id)
	}
	out, err := e.runBytes(ctx, "log", "-1", "--format="+commitFormat, id)
	if err != nil {
		return nil, fmt.Errorf("%w: reading commit %s: %w", ErrRepository, id, err)
	}
	record := strings.TrimSuffix(string(out), string(recordSeparator))
	commit, ok := parseCommitRecord(record)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable commit record for %s", ErrRepository, id)
	}
	return commit, nil
}

// Diff runs git diff-tree between two trees. An empty id stands for the empty tree.
func (e *Exec) Diff(ctx context.Context, from, to string) ([]Change, error) {
	if from == "" {
		from = emptyTreeSHA
	}
	if to == "" {
		to = emptyTreeSHA
	}
	out, err := e.runBytes(ctx, "diff-tree", "-r", "-z", "--no-renames", "--no-commit-id", from, to)
	if err != nil {
		return nil, fmt.Errorf("diff-tree %s %s: %w", from, to, err)
	}
	return parseDiffTree(out)
}

// Blob returns the content of a blob object.
func (e *Exec) Blob(ctx context.Context, id string) ([]byte, error) {
	if id == "" || strings.Trim(id, "0") == "" {
		return nil, fmt.Errorf("%w: empty blob id", ErrNotFound)
	}
	kind, err := e.run(ctx, "cat-file", "-t", id)
	if err != nil || kind != "blob" {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	data, err := e.runBytes(ctx, "cat-file", "blob", id)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %w", ErrRepository, id, err)
	}
	return data, nil
}

// Close is a no-op; every call runs its own git process.
func (e *Exec) Close() error {
	return nil
}

// command builds a git command rooted at the repository directory.
func (e *Exec) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.dir
	return cmd
}

// run executes git and returns trimmed stdout.
func (e *Exec) run(ctx context.Context, args ...string) (string, error) {
	out, err := e.runBytes(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// runBytes executes git and returns stdout untouched.
func (e *Exec) runBytes(ctx context.Context, args ...string) ([]byte, error) {
	cmd := e.command(ctx, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, wrapExecErr(err, &stderr)
	}
	return stdout.Bytes(), nil
}

// wrapExecErr turns a process failure into an error carrying git's stderr.
func wrapExecErr(err error, stderr *bytes.Buffer) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return fmt.Errorf("git not found: ensure git is installed and in PATH: %w", err)
	}

	// Git command failed - include stderr in message
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Errorf("git command failed: %w", err)
	}
	return fmt.Errorf("git command failed: %s: %w", msg, err)
}

// scanRecords splits git log output on the record separator and parses each commit.
func scanRecords(r io.Reader, fn WalkFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	scanner.Split(splitRecords)

	for scanner.Scan() {
		record := strings.TrimLeft(scanner.Text(), "\n")
		if record == "" {
			continue
		}
		commit, ok := parseCommitRecord(record)
		if !ok {
			return fmt.Errorf("%w: unparseable commit record %.40q", ErrRepository, record)
		}
		if err := fn(commit); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading git log: %w", ErrRepository, err)
	}
	return nil
}

// splitRecords is a bufio.SplitFunc yielding recordSeparator-terminated tokens.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, recordSeparator); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseCommitRecord parses one commitFormat record.
// Returns the commit and true if successful, nil and false otherwise.
func parseCommitRecord(record string) (*Commit, bool) {
	fields := strings.SplitN(record, fieldSeparator, 7)
	if len(fields) < 7 {
		return nil, false
	}

	// Parse Unix timestamp
	timestamp, err := strconv.ParseInt(strings.TrimSpace(fields[5]), 10, 64)
	if err != nil {
		timestamp = 0
	}

	return &Commit{
		ID:          strings.TrimSpace(fields[0]),
		Tree:        strings.TrimSpace(fields[1]),
		Parents:     strings.Fields(fields[2]),
		AuthorName:  fields[3],
		AuthorEmail: fields[4],
		When:        time.Unix(timestamp, 0),
		Message:     fields[6],
	}, true
}

// parseDiffTree parses git diff-tree -r -z output.
// Each entry is ":<mode> <mode> <sha> <sha> <status>\x00<path>\x00".
func parseDiffTree(out []byte) ([]Change, error) {
	tokens := strings.Split(string(out), "\x00")
	var changes []Change

	for i := 0; i < len(tokens); i++ {
		meta := tokens[i]
		if meta == "" {
			continue
		}
		if !strings.HasPrefix(meta, ":") || i+1 >= len(tokens) {
			return nil, fmt.Errorf("malformed diff-tree entry %q", meta)
		}
		path := tokens[i+1]
		i++

		parts := strings.Fields(meta[1:])
		if len(parts) < 5 {
			return nil, fmt.Errorf("malformed diff-tree entry %q", meta)
		}
		changes = append(changes, diffTreeChange(path, parts[3], parts[4]))
	}
	return changes, nil
}

// diffTreeChange builds a Change from a diff-tree post-image SHA and status letter.
func diffTreeChange(path, newSHA, status string) Change {
	switch status[0] {
	case 'D':
		return Change{Path: path, Action: Delete}
	case 'A':
		return Change{Path: path, Action: Insert, Blob: newSHA}
	default:
		return Change{Path: path, Action: Modify, Blob: newSHA}
	}
}
