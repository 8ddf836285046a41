//go:build linux

package listener

import (
	"time"

	"golang.org/x/sys/unix"
)

// setTCPKeepIdle sets TCP_KEEPIDLE, the knob net.ListenConfig/Dialer don't
// expose directly. Matches service.py's socket.setsockopt(SOL_TCP,
// TCP_KEEPIDLE, ...) call when binding the listening socket.
func setTCPKeepIdle(fd int, idle time.Duration) error {
	secs := int(idle.Seconds())
	if secs < 1 {
		secs = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}
