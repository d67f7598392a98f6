package preflight

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the recommended available memory (1GB). Clustering
// holds the whole TF-IDF matrix in memory.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory warns when the system reports little available memory.
// Systems without /proc/meminfo pass with an "unknown" message.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: false,
	}

	available, err := availableMemory("/proc/meminfo")
	if err != nil {
		result.Status = StatusPass
		result.Message = "available memory unknown"
		result.Details = err.Error()
		return result
	}

	result.Message = fmt.Sprintf("%s available (recommended: 1 GB)", formatBytes(available))
	if available < MinMemoryBytes {
		result.Status = StatusWarn
		result.Details = "Large corpora may be slow to cluster; try a lower cluster.max_features"
		return result
	}
	result.Status = StatusPass
	return result
}

func availableMemory(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return parseMemAvailable(f)
}

// parseMemAvailable reads the MemAvailable line of a meminfo file.
func parseMemAvailable(r io.Reader) (uint64, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad MemAvailable value %q", fields[1])
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not reported")
}
