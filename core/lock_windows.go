//go:build windows

package core

// processAlive always reports true on Windows, where the signal-0 probe has
// no equivalent. An existing lock is treated as live unless staleAfter says
// otherwise.
func processAlive(pid int) bool {
	return pid > 0
}
