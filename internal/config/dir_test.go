package config

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDir_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir := Dir()
	if dir == "" {
		t.Fatal("Dir() returned empty string")
	}

	if runtime.GOOS != "windows" {
		if filepath.Base(dir) != AppName {
			t.Errorf("Dir() = %q, want path ending in %q", dir, AppName)
		}
	}
}

func TestDir_XDGOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	want := filepath.Join("/xdg/config", AppName)
	if got := Dir(); got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
}
