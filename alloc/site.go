package alloc

import (
	"path/filepath"
	"runtime"
	"strconv"
)

// Caller returns the "file:line" tag of the function skip frames above the
// caller of Caller.
func Caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
