package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	// RepoFileName is the per-repository config file, read from the
	// repository working directory.
	RepoFileName = ".git-export.yaml"
	// UserFileName is the per-user config file inside Dir().
	UserFileName = "config.yaml"
)

// ErrInvalidConfig is returned when a config file exists but cannot be parsed.
var ErrInvalidConfig = errors.New("invalid config file")

// File mirrors the long flag names of the CLI. Nil fields were not set in
// the file and leave the flag default in place.
type File struct {
	Outdir     *string  `yaml:"outdir"`
	Zip        *string  `yaml:"zip"`
	Method     *string  `yaml:"method"`
	Jobs       *int     `yaml:"jobs"`
	AllParents *bool    `yaml:"all-parents"`
	Include    []string `yaml:"include"`
	Strict     *bool    `yaml:"strict"`
	Backend    *string  `yaml:"backend"`
	Regex      *bool    `yaml:"regex"`
	From       *string  `yaml:"from"`
	MaxCount   *int     `yaml:"max-count"`
	PrintLog   *bool    `yaml:"print-log"`
	Color      *string  `yaml:"color"`

	// Source is the path the values were read from; empty when no file exists.
	Source string `yaml:"-"`
}

// Load reads the first config file found: repoDir/.git-export.yaml, then
// userDir/config.yaml. userDir may be empty to skip the per-user file.
// A missing file is not an error; Load returns an empty File.
func Load(fsys afero.Fs, repoDir, userDir string) (*File, error) {
	candidates := []string{filepath.Join(repoDir, RepoFileName)}
	if userDir != "" {
		candidates = append(candidates, filepath.Join(userDir, UserFileName))
	}

	for _, path := range candidates {
		data, err := afero.ReadFile(fsys, path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return parse(data, path)
	}
	return &File{}, nil
}

func parse(data []byte, path string) (*File, error) {
	file := &File{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidConfig, path, err)
	}
	file.Source = path
	return file, nil
}
