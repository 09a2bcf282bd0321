// Package assert reports structural misuse of the buffer layer: calls that
// can only come from a bug in the owning component, such as tearing down a
// queue twice.
//
// In strict mode (the default, meant for development and tests) a failed
// assertion panics. With strict mode off it is logged and returned as an
// error and the caller degrades to a no-op.
package assert

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

var strict atomic.Bool

func init() {
	strict.Store(true)
}

// SetStrict switches between panicking and logging on assertion failure.
func SetStrict(v bool) {
	strict.Store(v)
}

func Strict() bool {
	return strict.Load()
}

// Fail reports a misuse. It panics in strict mode, otherwise it logs and
// returns the assertion error.
func Fail(format string, args ...any) error {
	err := errors.AssertionFailedWithDepthf(1, format, args...)
	glog.ErrorDepth(1, err.Error())
	if strict.Load() {
		panic(err)
	}
	return err
}
