package preflight

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// MinDiskSpaceBytes leaves room for the vector index, the keyword index and
// the story database.
const MinDiskSpaceBytes = 100 * humanize.MiByte

// CheckDiskSpace reports free space on the volume holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat %s: %v", path, err)
		return result
	}

	free := fs.Bavail * uint64(fs.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", humanize.IBytes(free), humanize.IBytes(MinDiskSpaceBytes))
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Details = "Free some space on the volume holding the project directory"
		return result
	}
	result.Status = StatusPass
	return result
}
