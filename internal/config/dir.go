// Package config resolves git-export's configuration directory and loads
// its YAML configuration file.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user configuration directory.
const AppName = "git-export"

// Dir returns the git-export configuration directory.
//
// Resolution:
//   - $XDG_CONFIG_HOME/git-export if set (respects XDG on any platform)
//   - %AppData%/git-export on Windows
//   - ~/.config/git-export on macOS and Linux
//
// Returns "" when no home directory can be determined.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", AppName)
}
