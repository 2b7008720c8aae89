package memprobe

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// freeBytes calls GlobalMemoryStatusEx, the documented Win32 way to read
// available physical memory.
func freeBytes() (uint64, error) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, err
	}
	return status.AvailPhys, nil
}
