package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ddki/git-export/internal/archive"
	"github.com/ddki/git-export/internal/config"
	"github.com/ddki/git-export/internal/extract"
	"github.com/ddki/git-export/internal/gitrepo"
	"github.com/ddki/git-export/internal/logging"
	"github.com/ddki/git-export/internal/output"
	"github.com/ddki/git-export/internal/selector"
)

// commitSummary is one selected commit in the run report.
type commitSummary struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// exportResult is the JSON document written under --json.
type exportResult struct {
	Commits []commitSummary  `json:"commits"`
	Export  *extract.Result  `json:"export"`
	Archive *archive.Summary `json:"archive,omitempty"`
}

// runExport executes one export: select, extract, then archive.
func runExport(cmd *cobra.Command, opts *exportOptions) error {
	fs := afero.NewOsFs()

	file, err := config.Load(fs, opts.dir, config.Dir())
	if err != nil {
		return fail(newPrinter(cmd, opts), classify("loading config", err))
	}
	applyConfig(cmd, opts, file)

	printer := newPrinter(cmd, opts)
	if err := opts.validate(); err != nil {
		return fail(printer, err)
	}

	logger := logging.New(cmd.ErrOrStderr(), opts.printLog)
	defer func() { _ = logger.Sync() }()
	if file.Source != "" {
		logger.Debug("loaded config", zap.String("path", file.Source))
	}

	root, zipPath, err := resolvePaths(opts)
	if err != nil {
		return fail(printer, output.NewSystemErrorWithCause("resolving paths", err))
	}
	logger.Debug("export",
		zap.String("filter", opts.filter),
		zap.Strings("in_commits", opts.inCommits),
		zap.String("outdir", root),
		zap.String("zip", zipPath),
	)

	result, err := export(cmd.Context(), fs, opts, root, zipPath, logger)
	if err != nil {
		return fail(printer, err)
	}

	if printer.IsJSON() {
		return printer.WriteJSON(result)
	}
	printReport(printer, opts, result)
	return nil
}

func export(ctx context.Context, fs afero.Fs, opts *exportOptions, root, zipPath string, logger *zap.Logger) (*exportResult, error) {
	repo, err := gitrepo.Open(ctx, opts.dir, gitrepo.Backend(opts.backend))
	if err != nil {
		return nil, classify("opening repository", err)
	}
	defer func() { _ = repo.Close() }()

	ids := selector.ExpandIDs(ctx, repo, opts.inCommits, logger)
	crit, err := selector.NewCriterion(opts.filter, opts.regex, ids)
	if err != nil {
		return nil, classify("parsing filter", err)
	}
	commits, err := selector.Select(ctx, repo, crit, selector.Options{
		From:   opts.from,
		Limit:  opts.maxCount,
		Strict: opts.strict,
		Logger: logger,
	})
	if err != nil {
		return nil, classify("selecting commits", err)
	}

	extractor, err := extract.New(repo, fs, root, extract.Options{
		Parents: opts.parentPolicy(),
		Include: opts.include,
		Jobs:    opts.jobs,
		Logger:  logger,
	})
	if err != nil {
		return nil, classify("configuring extraction", err)
	}
	exported, err := extractor.Run(ctx, commits)
	if err != nil {
		return nil, classify("extracting files", err)
	}

	result := &exportResult{Commits: summarize(commits), Export: exported}
	if zipPath == "" {
		return result, nil
	}

	method, err := archive.ParseMethod(opts.method)
	if err != nil {
		return nil, output.NewUserErrorWithCause("invalid --method", err)
	}
	writer := archive.NewWriter(fs, archive.WithMethod(method), archive.WithLogger(logger))
	result.Archive, err = writer.Write(ctx, root, zipPath)
	if err != nil {
		return nil, classify("writing archive", err)
	}
	return result, nil
}

// resolvePaths makes the export root and archive path absolute against the
// current directory. An empty archive path stays empty.
func resolvePaths(opts *exportOptions) (string, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(cwd, p)
	}
	return abs(opts.outdir), abs(opts.zip), nil
}

// userErrors are failures caused by the invocation rather than the system.
var userErrors = []error{
	selector.ErrBadPattern,
	extract.ErrBadInclude,
	config.ErrInvalidConfig,
}

// classify wraps err in an ExitError, choosing the exit code by sentinel.
func classify(stage string, err error) error {
	var exitErr *output.ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return output.NewUserErrorWithCause(stage, err)
		}
	}
	return output.NewSystemErrorWithCause(stage, err)
}

// fail prints err and returns it for the exit code.
func fail(printer *output.Printer, err error) error {
	printer.Error(err)
	return err
}

func newPrinter(cmd *cobra.Command, opts *exportOptions) *output.Printer {
	out := cmd.OutOrStdout()
	color := output.ResolveColorMode(opts.color, output.IsTTY(out))
	return output.NewPrinter(out, opts.json, color).WithStderr(cmd.ErrOrStderr())
}

func summarize(commits []*gitrepo.Commit) []commitSummary {
	summaries := make([]commitSummary, 0, len(commits))
	for _, c := range commits {
		summaries = append(summaries, commitSummary{
			ID:      c.ID,
			Author:  c.AuthorName,
			Email:   c.AuthorEmail,
			Date:    c.When.Format("2006-01-02 15:04"),
			Subject: subject(c.Message),
		})
	}
	return summaries
}

// subject returns the first line of a commit message.
func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(line)
}

// printReport writes the human-readable summary.
func printReport(printer *output.Printer, opts *exportOptions, result *exportResult) {
	if len(result.Commits) == 0 {
		if len(opts.inCommits) > 0 {
			printer.Warn("none of the %d listed commits are reachable from %s", len(opts.inCommits), opts.from)
		} else {
			printer.Warn("no commits match %q", opts.filter)
		}
	} else {
		printer.Section(fmt.Sprintf("Selected commits (%d)", len(result.Commits)))
		rows := make([][]string, 0, len(result.Commits))
		for _, c := range result.Commits {
			rows = append(rows, []string{c.ID[:min(7, len(c.ID))], c.Date, c.Author, c.Subject})
		}
		printer.Table([]string{"COMMIT", "DATE", "AUTHOR", "SUBJECT"}, rows)
		printer.Println()
	}

	exported := result.Export
	printer.Section("Export")
	printer.KeyValue("Directory", exported.Root)
	printer.KeyValue("Files", fmt.Sprintf("%d (%d text, %d binary)", len(exported.Files), exported.Text, exported.Binary))
	if exported.Skipped > 0 {
		printer.KeyValue("Skipped", fmt.Sprintf("%d changes without content", exported.Skipped))
	}

	if result.Archive != nil {
		printer.KeyValue("Archive", fmt.Sprintf("%s (%s, %d files, %d dirs)",
			result.Archive.Path, result.Archive.Method, result.Archive.Files, result.Archive.Dirs))
	}
}
