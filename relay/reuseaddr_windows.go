//go:build windows

package relay

import "syscall"

// setReuseAddr sets SO_REUSEADDR; Windows takes a Handle rather than an int fd.
func setReuseAddr(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
