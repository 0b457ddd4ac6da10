//go:build windows

package lockfile

import "syscall"

const stillActive = 259

func isProcessRunning(pid int) (bool, string) {
	if pid <= 0 {
		return false, "invalid pid"
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false, "no such process"
	}
	defer syscall.CloseHandle(h)

	// An exited process keeps its handle openable until every reference is gone.
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err == nil && code != stillActive {
		return false, "process has exited"
	}
	return true, ""
}
