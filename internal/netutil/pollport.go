package netutil

import (
	"net"
	"time"
)

// WaitForListener tries to connect to the given TCP addr and returns nil
// as soon as a connection succeeds, or the last dial error once timeout
// has elapsed. Used by internal/rpcapi's integration test to wait for
// freshly started listeners before dialing them; neither server binary
// calls it.
func WaitForListener(addr string, timeout time.Duration) error {
	start := time.Now()
	var lastErr error
	for time.Since(start) < timeout {
		if lastErr = tryDial(addr); lastErr == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return lastErr
}

func tryDial(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err == nil {
		err = conn.Close()
	}
	return err
}
