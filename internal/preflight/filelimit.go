package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors covers parallel document loading, the bleve segments
// and the SQLite files held open by `storyrag serve`.
const MinFileDescriptors = 1024

// CheckFileDescriptors reports the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot read the open file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d open files allowed (minimum: %d)", lim.Cur, MinFileDescriptors)
	if lim.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = fmt.Sprintf("Raise the limit, e.g. 'ulimit -n %d'", MinFileDescriptors*10)
		return result
	}
	result.Status = StatusPass
	return result
}
