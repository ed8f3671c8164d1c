package ops

import (
	"github.com/pkg/errors"
)

// track adds a stack trace to an error as it passes through an op, so
// failures deep in a build can be placed when printed with %+v.
func track(err error) error {
	return errors.WithStack(err)
}

var (
	ErrNotFound     = errors.New("entity not found")
	ErrCorruption   = errors.New("corruption detected")
	ErrInstallError = errors.New("installation error")
)
