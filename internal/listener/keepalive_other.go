//go:build !linux

package listener

import "time"

// setTCPKeepIdle is a no-op outside Linux; TCP_KEEPIDLE has no portable
// equivalent and brimd's supported deployment target is Linux.
func setTCPKeepIdle(fd int, idle time.Duration) error { return nil }
