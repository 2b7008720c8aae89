package memprobe

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// freeBytes parses /proc/meminfo's MemAvailable line, which the kernel
// computes as the estimate of memory available for new allocations without
// swapping -- a closer match to "free" than MemFree alone.
func freeBytes() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("memprobe: malformed MemAvailable line %q", line)
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("memprobe: MemAvailable not found in /proc/meminfo")
}
