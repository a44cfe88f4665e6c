// Package selector chooses which commits git-export extracts.
//
// A Criterion matches commits either by free text (or a regular expression)
// against message, author name and author email, or by an explicit list of
// commit ids that, when non-empty, replaces text matching entirely.
// Select walks history from a starting revision and returns matching
// commits oldest first, so later commits overwrite earlier ones during
// extraction.
package selector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ddki/git-export/internal/gitrepo"
	"github.com/ddki/git-export/internal/logging"
)

// ErrMalformedCommit indicates commit metadata that is not valid UTF-8.
var ErrMalformedCommit = errors.New("malformed commit")

// fullIDLen is the length of a hex SHA-1 commit id.
const fullIDLen = 40

// ErrBadPattern indicates a filter that does not compile as a regular expression.
var ErrBadPattern = errors.New("invalid filter pattern")

// Match reports whether needle matches haystack: exactly, as a substring,
// or case-insensitively. The empty needle matches everything.
func Match(haystack, needle string) bool {
	return haystack == needle ||
		strings.Contains(haystack, needle) ||
		strings.EqualFold(haystack, needle)
}

// Criterion decides whether a commit is selected.
type Criterion struct {
	filter string
	re     *regexp.Regexp
	ids    map[string]struct{}
}

// NewCriterion builds a Criterion. With regex set, filter is compiled as a
// regular expression. Blank ids are ignored; any remaining id makes the
// criterion match by id only.
func NewCriterion(filter string, regex bool, ids []string) (*Criterion, error) {
	c := &Criterion{filter: filter}

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if c.ids == nil {
			c.ids = make(map[string]struct{})
		}
		c.ids[id] = struct{}{}
	}

	if regex && c.ids == nil {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPattern, err)
		}
		c.re = re
	}
	return c, nil
}

// ExpandIDs resolves abbreviated commit ids against repo. Full ids pass
// through untouched. An id that does not resolve is kept as given, so it
// selects nothing, and a warning is logged.
func ExpandIDs(ctx context.Context, repo gitrepo.Repository, ids []string, logger *zap.Logger) []string {
	logger = logging.OrNop(logger)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if len(id) == fullIDLen {
			out = append(out, strings.ToLower(id))
			continue
		}
		full, err := repo.Resolve(ctx, id)
		if err != nil {
			logger.Warn("commit id does not resolve", zap.String("id", id), zap.Error(err))
			out = append(out, id)
			continue
		}
		out = append(out, full)
	}
	return out
}

// ByID reports whether the criterion selects by explicit commit ids.
func (c *Criterion) ByID() bool {
	return len(c.ids) > 0
}

// Matches reports whether the commit is selected.
func (c *Criterion) Matches(commit *gitrepo.Commit) bool {
	if c.ByID() {
		_, ok := c.ids[commit.ID]
		return ok
	}
	return c.matchText(commit.Message) ||
		c.matchText(commit.AuthorName) ||
		c.matchText(commit.AuthorEmail)
}

func (c *Criterion) matchText(field string) bool {
	if c.re != nil {
		return c.re.MatchString(field)
	}
	return Match(field, c.filter)
}

// Validate returns ErrMalformedCommit if the commit's message, author name
// or author email is not valid UTF-8.
func Validate(commit *gitrepo.Commit) error {
	fields := []struct{ name, value string }{
		{"message", commit.Message},
		{"author name", commit.AuthorName},
		{"author email", commit.AuthorEmail},
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s: %s is not valid UTF-8", ErrMalformedCommit, commit.ID, f.name)
		}
	}
	return nil
}

// Options controls a selection walk.
type Options struct {
	// From is the starting revision. Empty means the current branch tip.
	From string
	// Limit keeps only the newest Limit matches. Zero means no limit.
	Limit int
	// Strict makes malformed commit metadata fatal instead of skipping the commit.
	Strict bool
	// Logger receives per-commit diagnostics. Nil disables them.
	Logger *zap.Logger
}

// Select walks history from the starting revision and returns the commits
// matching crit, oldest first.
func Select(ctx context.Context, repo gitrepo.Repository, crit *Criterion, opts Options) ([]*gitrepo.Commit, error) {
	logger := logging.OrNop(opts.Logger)

	start, err := startID(ctx, repo, opts.From)
	if err != nil {
		return nil, err
	}
	logger.Debug("walking history", zap.String("from", start), zap.Bool("by_id", crit.ByID()))

	var selected []*gitrepo.Commit
	err = repo.Walk(ctx, start, func(c *gitrepo.Commit) error {
		if err := Validate(c); err != nil {
			if opts.Strict {
				return err
			}
			logger.Warn("skipping commit with malformed metadata", zap.String("commit", c.ID), zap.Error(err))
			return nil
		}
		if !crit.Matches(c) {
			return nil
		}

		logCommit(logger, c)
		selected = append(selected, c)
		if opts.Limit > 0 && len(selected) >= opts.Limit {
			return gitrepo.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// History was walked newest first; extraction wants oldest first.
	slices.Reverse(selected)
	return selected, nil
}

// startID resolves the starting revision, defaulting to HEAD.
func startID(ctx context.Context, repo gitrepo.Repository, from string) (string, error) {
	if from == "" || from == "HEAD" {
		return repo.Head(ctx)
	}
	return repo.Resolve(ctx, from)
}

func logCommit(logger *zap.Logger, c *gitrepo.Commit) {
	logger.Debug("selected commit",
		zap.String("id", c.ID),
		zap.String("author", c.AuthorName),
		zap.String("email", c.AuthorEmail),
		zap.String("message", strings.TrimSpace(c.Message)),
		zap.String("tree", c.Tree),
	)
}
