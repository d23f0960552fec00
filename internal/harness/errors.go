package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
)

// PatchError is a unit whose artifact could not be patched.
type PatchError struct {
	Unit Unit
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch failed for %s: %v", e.Unit, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// ExecError is a patched program that did not start cleanly.
type ExecError struct {
	Output string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("execution test failed: %v", e.Err)
	}
	return fmt.Sprintf("execution test failed: %v: %s", e.Err, e.Output)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Error classes reported by Classify.
const (
	ClassCancel   = "cancel"
	ClassNotFound = "not-found"
	ClassNetwork  = "network"
	ClassIO       = "io"
	ClassExec     = "exec"
	ClassPatch    = "patch"
)

// Classify maps a unit error to a short class for logs and reports.
func Classify(err error) string {
	var (
		patchErr *PatchError
		execErr  *ExecError
		urlErr   *url.Error
		netErr   net.Error
		pathErr  *fs.PathError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCancel
	case isNotFound(err):
		return ClassNotFound
	case errors.As(err, &patchErr):
		return ClassPatch
	case errors.As(err, &execErr):
		return ClassExec
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return ClassNetwork
	case errors.As(err, &pathErr):
		return ClassIO
	default:
		return ClassPatch
	}
}
