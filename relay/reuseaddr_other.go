//go:build !windows

package relay

import "syscall"

// setReuseAddr sets SO_REUSEADDR on the listening socket.
func setReuseAddr(fd uintptr) error {
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
