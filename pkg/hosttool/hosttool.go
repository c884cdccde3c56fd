// Package hosttool locates the host-language tooling that manages a
// project's [dependencies] table.
//
// ipm records host dependencies in the descriptor but delegates their
// installation to the host ecosystem's installer. Operations that need
// that installer check for it up front and fail with ENVIRONMENT rather
// than half-applying a change.
package hosttool

import (
	"os/exec"

	"github.com/matzehuels/ipm/pkg/errors"
)

// DefaultInstaller is the host-language dependency installer.
const DefaultInstaller = "pdm"

// Require returns the path of tool on PATH. An absent tool is ENVIRONMENT.
func Require(tool string) (string, error) {
	if tool == "" {
		tool = DefaultInstaller
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeEnvironment, err, "%s is required but was not found on PATH", tool)
	}
	return path, nil
}
