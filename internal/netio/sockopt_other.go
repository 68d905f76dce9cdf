//go:build !linux

package netio

import "syscall"

// reuseControl leaves socket options at their defaults off Linux.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
