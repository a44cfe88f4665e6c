package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ddki/git-export/internal/archive"
	"github.com/ddki/git-export/internal/config"
	"github.com/ddki/git-export/internal/extract"
	"github.com/ddki/git-export/internal/gitrepo"
	"github.com/ddki/git-export/internal/output"
)

// exportOptions holds the resolved flag values for one run.
type exportOptions struct {
	filter    string
	regex     bool
	inCommits []string
	from      string
	maxCount  int
	strict    bool

	outdir     string
	include    []string
	allParents bool
	jobs       int

	zip    string
	method string

	backend string
	dir     string

	printLog bool
	json     bool
	color    string
}

func defaultOptions() *exportOptions {
	return &exportOptions{
		from:    "HEAD",
		outdir:  "git-export",
		jobs:    extract.DefaultJobs,
		zip:     "source.zip",
		method:  archive.Bzip2.String(),
		backend: string(gitrepo.BackendGoGit),
		dir:     ".",
		color:   "auto",
	}
}

// applyConfig copies values from the config file into opts for every flag
// that was not set on the command line.
func applyConfig(cmd *cobra.Command, opts *exportOptions, file *config.File) {
	setFrom(cmd, "outdir", &opts.outdir, file.Outdir)
	setFrom(cmd, "zip", &opts.zip, file.Zip)
	setFrom(cmd, "method", &opts.method, file.Method)
	setFrom(cmd, "jobs", &opts.jobs, file.Jobs)
	setFrom(cmd, "all-parents", &opts.allParents, file.AllParents)
	setFrom(cmd, "strict", &opts.strict, file.Strict)
	setFrom(cmd, "backend", &opts.backend, file.Backend)
	setFrom(cmd, "regex", &opts.regex, file.Regex)
	setFrom(cmd, "from", &opts.from, file.From)
	setFrom(cmd, "max-count", &opts.maxCount, file.MaxCount)
	setFrom(cmd, "print-log", &opts.printLog, file.PrintLog)
	setFrom(cmd, "color", &opts.color, file.Color)

	if len(file.Include) > 0 && !cmd.Flags().Changed("include") {
		opts.include = file.Include
	}
}

func setFrom[T any](cmd *cobra.Command, flag string, dst *T, src *T) {
	if src != nil && !cmd.Flags().Changed(flag) {
		*dst = *src
	}
}

// validate checks the option values that the core packages do not.
func (o *exportOptions) validate() error {
	if o.zip != "" && !strings.HasSuffix(o.zip, ".zip") {
		return output.NewUserError(fmt.Sprintf("archive name %q must end with .zip", o.zip))
	}
	if _, err := archive.ParseMethod(o.method); err != nil {
		return output.NewUserErrorWithCause("invalid --method", err)
	}
	switch gitrepo.Backend(o.backend) {
	case gitrepo.BackendGoGit, gitrepo.BackendExec:
	default:
		return output.NewUserError(fmt.Sprintf("invalid --backend %q (want %s or %s)",
			o.backend, gitrepo.BackendGoGit, gitrepo.BackendExec))
	}
	if !output.ValidColorMode(o.color) {
		return output.NewUserError(fmt.Sprintf("invalid --color %q (want %s)",
			o.color, strings.Join(output.ColorModes, ", ")))
	}
	if o.maxCount < 0 {
		return output.NewUserError("--max-count must not be negative")
	}
	if o.jobs < 0 {
		return output.NewUserError("--jobs must not be negative")
	}
	return nil
}

func (o *exportOptions) parentPolicy() extract.ParentPolicy {
	if o.allParents {
		return extract.AllParents
	}
	return extract.FirstParent
}
