// Package process manages the lifecycle of engine child processes: each one
// runs in its own process group so a hung conversion can be killed together
// with every helper it spawned.
package process

import (
	"errors"
	"os/exec"
)

// Crashed reports whether err describes a child that did not exit on its
// own: it was killed by a signal or could not report an exit status.
func Crashed(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return signaled(exitErr)
}
