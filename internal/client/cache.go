package client

import (
	"sync"
	"time"
)

// Process-wide connection cache: at most one daemon connection is kept
// for request/response callers. Attach streams never go through here.
var (
	cacheMu     sync.Mutex
	cachedConn  *Client
	cachedPath  string
	probeBudget = 500 * time.Millisecond
)

// Shared returns a cached live connection to the daemon, dialing if the
// cache is empty or the cached connection fails its liveness probe.
func Shared(socketPath string) (*Client, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cachedConn != nil && cachedPath == socketPath {
		if err := cachedConn.Ping(probeBudget); err == nil {
			return cachedConn, nil
		}
		// Daemon restarted or the connection died underneath us.
		_ = cachedConn.Close()
		cachedConn = nil
	}

	c, err := Dial(socketPath)
	if err != nil {
		return nil, err
	}
	cachedConn = c
	cachedPath = socketPath
	return c, nil
}

// InvalidateShared drops the cached connection, forcing the next Shared
// call to re-dial.
func InvalidateShared() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cachedConn != nil {
		_ = cachedConn.Close()
		cachedConn = nil
	}
}
