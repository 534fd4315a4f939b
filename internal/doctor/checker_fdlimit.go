package doctor

import (
	"context"
	"fmt"
	"syscall"
)

// RecommendedFileDescriptors is the soft limit recommended for the API
// server. Badger keeps value log and table files open alongside client
// connections and websocket subscribers.
const RecommendedFileDescriptors uint64 = 16384

// FileDescriptorChecker checks the file descriptor soft limit
type FileDescriptorChecker struct{}

func NewFileDescriptorChecker() *FileDescriptorChecker {
	return &FileDescriptorChecker{}
}

func (c *FileDescriptorChecker) Name() string       { return "File descriptors" }
func (c *FileDescriptorChecker) Category() Category { return CategorySystem }

func (c *FileDescriptorChecker) Check(ctx context.Context) CheckResult {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		r := result(c, StatusWarning, "File descriptors: unable to check")
		r.Details = err.Error()
		return r
	}

	if rLimit.Cur >= RecommendedFileDescriptors {
		return result(c, StatusOK, fmt.Sprintf("File descriptors: %d (>= %d recommended)", rLimit.Cur, RecommendedFileDescriptors))
	}
	r := result(c, StatusWarning, fmt.Sprintf("File descriptors: %d (>= %d recommended for production)", rLimit.Cur, RecommendedFileDescriptors))
	r.Details = fmt.Sprintf("Increase with 'ulimit -n %d'", RecommendedFileDescriptors)
	return r
}
