package server

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// throttle rejects a reconnect from an address whose previous connection
// is still alive and younger than the window.
type throttle struct {
	window time.Duration
	recent *cache.Cache
}

func newThrottle(window time.Duration) *throttle {
	cleanup := time.Duration(0)
	if window > 0 {
		cleanup = 2 * window
	}
	return &throttle{
		window: window,
		recent: cache.New(window, cleanup),
	}
}

// Enabled reports whether throttling is configured.
func (t *throttle) Enabled() bool {
	return t.window > 0
}

// Admit records a connection from ip and reports true, or reports false
// with the remaining wait when an earlier connection still holds the
// window. The check and the record are one step, so simultaneous
// connections from one address cannot both get in.
func (t *throttle) Admit(ip string) (time.Duration, bool) {
	if !t.Enabled() || ip == "" {
		return 0, true
	}
	for {
		if err := t.recent.Add(ip, struct{}{}, t.window); err == nil {
			return 0, true
		}
		// Add only fails on a live entry; an entry that expired since
		// then lets the next Add through.
		if _, expiry, found := t.recent.GetWithExpiration(ip); found {
			if wait := time.Until(expiry); wait > 0 {
				return wait, false
			}
		}
	}
}

// Release drops the entry for ip once its connection has terminated.
func (t *throttle) Release(ip string) {
	if ip == "" {
		return
	}
	t.recent.Delete(ip)
}

// Len returns the number of addresses currently tracked.
func (t *throttle) Len() int {
	return t.recent.ItemCount()
}

// throttleMessage builds the text sent to a throttled client.
func throttleMessage(wait time.Duration) string {
	return fmt.Sprintf("Connection throttle - Wait %.2f second(s) before connecting again.", wait.Seconds())
}

// rejectThrottled answers a throttled socket with a complete stream that
// carries a not-authorized error, then closes it.
func (s *Server) rejectThrottled(conn net.Conn, wait time.Duration) {
	defer conn.Close()

	header := protocol.StreamHeader{
		From:    s.config.Domain,
		ID:      newStreamID(),
		Version: protocol.StreamVersion,
		Lang:    "en",
	}

	var buf bytes.Buffer
	buf.Write(header.Bytes())
	buf.Write(protocol.StreamError(util.ToStreamCondition(util.ErrThrottled), throttleMessage(wait)).Bytes())
	buf.WriteString(protocol.StreamEnd)

	_ = conn.SetWriteDeadline(time.Now().Add(s.config.Timeouts.Disconnect))
	if _, err := conn.Write(buf.Bytes()); err != nil {
		s.log.WithError(err).WithField("remote", conn.RemoteAddr().String()).Debug("Failed to write throttle rejection")
	}
}
