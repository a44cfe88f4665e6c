package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// newRootCmd creates the git-export command.
func newRootCmd() *cobra.Command {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:   "git-export -f <filter> [flags]",
		Short: "Export the files changed by matching commits",
		Long: `git-export collects the post-change content of every file touched by the
commits that match a filter, writes it below an output directory that mirrors
repository paths, and packs that directory into a zip archive.

A commit matches when the filter equals, is contained in, or case-insensitively
equals its message, author name or author email. With --in-commit only the
listed commits are exported and the filter is not consulted.

Commits are applied oldest first, so when several touch the same path the
most recent one wins.

Defaults for most flags can be set in .git-export.yaml in the repository, or
in config.yaml in the user configuration directory.

Examples:
  git-export -f alice                          # Everything alice committed
  git-export -f 'JIRA-\d+' -E --zip fix.zip    # Commits whose metadata matches a regex
  git-export -f x --in-commit abc1234,def5678  # Exactly these commits (ids may be abbreviated)
  git-export -f alice --zip ''                 # Skip the archive
  git-export -f alice --json                   # Machine-readable summary`,
		Version:       buildVersion(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}

	bindFlags(cmd, opts)

	// Configure lipgloss for TTY detection
	lipgloss.SetHasDarkBackground(true)

	return cmd
}

// bindFlags registers every flag on cmd, writing into opts.
func bindFlags(cmd *cobra.Command, opts *exportOptions) {
	flags := cmd.Flags()

	flags.StringVarP(&opts.filter, "filter", "f", "", "Match against commit message, author name or email (required)")
	flags.BoolVarP(&opts.regex, "regex", "E", false, "Treat --filter as a regular expression")
	flags.StringSliceVar(&opts.inCommits, "in-commit", nil, "Export exactly these commits, by full or abbreviated id (comma separated or repeated)")
	flags.StringVar(&opts.from, "from", opts.from, "Revision to start walking history from")
	flags.IntVar(&opts.maxCount, "max-count", 0, "Keep only the newest N matching commits (0 for all)")
	flags.BoolVar(&opts.strict, "strict", false, "Fail on commits with malformed metadata instead of skipping them")

	flags.StringVarP(&opts.outdir, "outdir", "o", opts.outdir, "Output directory, relative to the current directory")
	flags.StringSliceVar(&opts.include, "include", nil, "Only export repository paths matching these globs")
	flags.BoolVar(&opts.allParents, "all-parents", false, "Diff merge commits against every parent, not just the first")
	flags.IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Number of files written in parallel")

	flags.StringVar(&opts.zip, "zip", opts.zip, "Archive file name, must end in .zip (empty to skip archiving)")
	flags.StringVar(&opts.method, "method", opts.method, "Archive compression: bzip2, deflate or store")

	flags.StringVar(&opts.backend, "backend", opts.backend, "Repository backend: go-git or exec")
	flags.StringVarP(&opts.dir, "dir", "C", opts.dir, "Run as if started in this repository directory")

	flags.BoolVarP(&opts.printLog, "print-log", "V", false, "Print diagnostics to stderr")
	flags.BoolVar(&opts.json, "json", false, "Output the summary as JSON")
	flags.StringVar(&opts.color, "color", opts.color, "Color output: auto, always or never")

	_ = cmd.MarkFlagRequired("filter")
}
