//go:build windows

package util

import "golang.org/x/sys/windows"

// FreeBytes returns the number of bytes available to the caller on the volume
// holding path
func FreeBytes(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var avail, total, free uint64
	err = windows.GetDiskFreeSpaceEx(p, &avail, &total, &free)
	return avail, err
}
