package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// minSweepPeriod bounds how often the keep-alive sweeper runs.
const minSweepPeriod = 10 * time.Millisecond

// whitespacePing is the keep-alive sent on idle streams (RFC 6120 section 4.6.1).
var whitespacePing = []byte(" ")

// startBackground launches the keep-alive sweeper and the stats ticker.
func (s *Server) startBackground() {
	if period := s.sweepPeriod(); period > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.keepAliveLoop(period)
		}()
	}
	if s.config.StatsInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(s.config.StatsInterval)
		}()
	}
}

// sweepPeriod is half the shorter of the keep-alive interval and the
// inactivity timeout, or 0 when both are disabled.
func (s *Server) sweepPeriod() time.Duration {
	t := s.config.Timeouts
	period := t.KeepAliveInterval
	if t.Inactivity > 0 && (period == 0 || t.Inactivity < period) {
		period = t.Inactivity
	}
	if period == 0 {
		return 0
	}
	period /= 2
	if period < minSweepPeriod {
		period = minSweepPeriod
	}
	return period
}

func (s *Server) keepAliveLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep disconnects inactive clients and pings idle ones.
func (s *Server) sweep() {
	t := s.config.Timeouts
	for _, c := range s.Connections() {
		if !c.IsConnected() {
			continue
		}
		idle := c.IdleDuration()
		if t.Inactivity > 0 && idle >= t.Inactivity {
			c.log.WithField("idle", idle.Round(time.Second).String()).Info("Client inactive")
			c.Disconnect(protocol.StreamConnectionTimeout, "")
			continue
		}
		if t.KeepAliveInterval > 0 && c.keepAliveDue(t.KeepAliveInterval) {
			go c.keepAlive(t.KeepAlive)
		}
	}
}

// keepAliveDue reports whether the stream has been quiet in both
// directions for interval and no keep-alive is in flight. It claims the
// in-flight slot when it returns true.
func (c *Connection) keepAliveDue(interval time.Duration) bool {
	last := c.lastActivity.Load()
	if ka := c.lastKeepAlive.Load(); ka > last {
		last = ka
	}
	if time.Since(time.Unix(0, last)) < interval {
		return false
	}
	return c.keepAlivePending.CompareAndSwap(false, true)
}

// keepAlive sends a whitespace ping. A ping that is not written within
// timeout means the peer stopped reading, so the connection is dropped
// without a farewell.
func (c *Connection) keepAlive(timeout time.Duration) {
	defer c.keepAlivePending.Store(false)

	ctx := c.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := c.SendRaw(ctx, whitespacePing)
	c.lastKeepAlive.Store(time.Now().UnixNano())
	switch {
	case err == nil:
		c.log.Trace("Keep-alive sent")
	case util.IsTimeout(ctx.Err()):
		c.log.Info("Keep-alive timed out")
		c.flags.Set(flagCancelWrite)
		c.disconnect(nil, false)
	default:
		c.log.WithError(err).Debug("Keep-alive not delivered")
	}
}

func (s *Server) statsLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

// Stats is a point-in-time summary of the connection registry.
type Stats struct {
	Connections   int
	Authenticated int
	Bound         int
	Encrypted     int
	Throttled     int
}

// Stats counts live connections by negotiation state.
func (s *Server) Stats() Stats {
	st := Stats{Throttled: s.throttle.Len()}
	for _, c := range s.Connections() {
		state := c.State()
		st.Connections++
		if state.Has(StateAuthenticated) {
			st.Authenticated++
		}
		if state.Has(StateResourceBinded) {
			st.Bound++
		}
		if state.Has(StateEncrypted) {
			st.Encrypted++
		}
	}
	return st
}

func (s *Server) logStats() {
	st := s.Stats()
	s.log.WithFields(logrus.Fields{
		"connections":   st.Connections,
		"authenticated": st.Authenticated,
		"bound":         st.Bound,
		"encrypted":     st.Encrypted,
		"throttled":     st.Throttled,
	}).Info("Connection stats")
}
