package hosttool

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/matzehuels/ipm/pkg/errors"
)

func TestRequire(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the fake tool")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "fakepdm")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	path, err := Require("fakepdm")
	if err != nil {
		t.Fatalf("Require() error: %v", err)
	}
	if path != tool {
		t.Errorf("Require() = %s, want %s", path, tool)
	}

	if _, err := Require("not-installed-anywhere"); !errors.Is(err, errors.ErrCodeEnvironment) {
		t.Errorf("Require(missing) error = %v, want ENVIRONMENT", err)
	}
}
