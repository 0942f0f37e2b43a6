package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
	"github.com/go-i2p/go-xmpp-server/lib/xmlstream"
)

const (
	// suspendPollInterval is how often a suspended loop rechecks its flags.
	suspendPollInterval = 16 * time.Millisecond

	// drainPollInterval is how often teardown checks for drained output.
	drainPollInterval = 16 * time.Millisecond
)

// Observer receives the events of one connection. Use ObserverFuncs when
// only some events are of interest.
type Observer interface {
	// OnStanza is called for each message, presence or iq received after
	// authentication that the server did not consume itself.
	OnStanza(c *Connection, stanza *protocol.Element)

	// OnElement is called for every such element, stanza or not.
	OnElement(c *Connection, elem *protocol.Element)

	// OnDisconnect is called once when the connection begins disconnecting.
	OnDisconnect(c *Connection)
}

// ObserverFuncs adapts optional functions to the Observer interface.
type ObserverFuncs struct {
	Stanza     func(c *Connection, stanza *protocol.Element)
	Element    func(c *Connection, elem *protocol.Element)
	Disconnect func(c *Connection)
}

// OnStanza implements Observer.
func (f ObserverFuncs) OnStanza(c *Connection, stanza *protocol.Element) {
	if f.Stanza != nil {
		f.Stanza(c, stanza)
	}
}

// OnElement implements Observer.
func (f ObserverFuncs) OnElement(c *Connection, elem *protocol.Element) {
	if f.Element != nil {
		f.Element(c, elem)
	}
}

// OnDisconnect implements Observer.
func (f ObserverFuncs) OnDisconnect(c *Connection) {
	if f.Disconnect != nil {
		f.Disconnect(c)
	}
}

// Connection is one accepted client stream.
//
// Inbound bytes flow socket -> receive loop -> parser -> negotiator.
// Outbound packets flow through a FIFO queue drained by the send loop.
// Both loops stop through Disconnect, which is safe to call from any
// goroutine and any number of times.
type Connection struct {
	id         string
	server     *Server
	log        *logrus.Entry
	remoteAddr string
	remoteIP   string
	createdAt  time.Time

	// raw is the accepted socket. conn is raw or its TLS wrapper and is
	// guarded by ioMu: loops hold the read lock, the TLS upgrade the write lock.
	raw  net.Conn
	ioMu sync.RWMutex
	conn net.Conn

	parser *xmlstream.Parser
	queue  *sendQueue
	state  atomicState
	flags  atomicFlags

	disposed         atomic.Uint32
	disconnecting    atomic.Bool
	headerSent       atomic.Bool
	keepAlivePending atomic.Bool

	// Unix nanoseconds.
	lastActivity  atomic.Int64
	lastKeepAlive atomic.Int64

	jidMu    sync.RWMutex
	jid      protocol.JID
	streamID string

	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObs   uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(s *Server, raw net.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	remote := raw.RemoteAddr().String()
	c := &Connection{
		id:         uuid.NewString(),
		server:     s,
		remoteAddr: remote,
		remoteIP:   hostOf(raw.RemoteAddr()),
		createdAt:  time.Now(),
		raw:        raw,
		conn:       raw,
		queue:      newSendQueue(),
		observers:  make(map[uint64]Observer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.log = s.log.WithFields(logrus.Fields{
		"session": c.id,
		"remote":  remote,
	})
	c.touch()
	c.state.Set(StateConnected)
	c.parser = xmlstream.NewParser(&negotiator{c: c})
	return c
}

// hostOf returns the IP part of a network address, or the whole string
// when the address has no port.
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// newStreamID returns a fresh random stream identifier.
func newStreamID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ID returns the connection's session identifier.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer's address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// RemoteIP returns the peer's IP address.
func (c *Connection) RemoteIP() string { return c.remoteIP }

// CreatedAt returns when the connection was accepted.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Server returns the owning server.
func (c *Connection) Server() *Server { return c.server }

// Context is canceled when the connection begins disconnecting.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed once teardown has finished and the socket is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current negotiation state.
func (c *Connection) State() ConnectionState {
	return c.state.Load()
}

// IsConnected reports whether the connection has not begun disconnecting.
func (c *Connection) IsConnected() bool {
	return c.state.Load().Has(StateConnected)
}

// IsAuthenticated reports whether SASL authentication succeeded.
func (c *Connection) IsAuthenticated() bool {
	return c.state.Load().Has(StateAuthenticated)
}

// JID returns the address bound to the connection. It is zero before
// authentication and bare until a resource is bound.
func (c *Connection) JID() protocol.JID {
	c.jidMu.RLock()
	defer c.jidMu.RUnlock()
	return c.jid
}

func (c *Connection) setJID(j protocol.JID) {
	c.jidMu.Lock()
	c.jid = j
	c.jidMu.Unlock()
}

// StreamID returns the id of the current stream, empty before the first header.
func (c *Connection) StreamID() string {
	c.jidMu.RLock()
	defer c.jidMu.RUnlock()
	return c.streamID
}

func (c *Connection) setStreamID(id string) {
	c.jidMu.Lock()
	c.streamID = id
	c.jidMu.Unlock()
}

// touch records inbound activity.
func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// IdleDuration returns the time since the client last sent anything.
func (c *Connection) IdleDuration() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// Subscribe registers o and returns a function that removes it. Observers
// are cleared when the connection disconnects; subscribing afterwards
// calls OnDisconnect immediately.
func (c *Connection) Subscribe(o Observer) (unsubscribe func()) {
	c.obsMu.Lock()
	if c.disconnecting.Load() {
		c.obsMu.Unlock()
		o.OnDisconnect(c)
		return func() {}
	}
	key := c.nextObs
	c.nextObs++
	c.observers[key] = o
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, key)
		c.obsMu.Unlock()
	}
}

func (c *Connection) snapshotObservers() []Observer {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	out := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		out = append(out, o)
	}
	return out
}

// dispatch hands an element the server did not consume to the observers.
// Unhandled iq requests are answered with service-unavailable.
func (c *Connection) dispatch(elem *protocol.Element) {
	observers := c.snapshotObservers()
	stanza := protocol.IsStanza(elem)
	for _, o := range observers {
		if stanza {
			o.OnStanza(c, elem)
		}
		o.OnElement(c, elem)
	}
	if len(observers) > 0 || !elem.Is(protocol.ElemIQ, protocol.NSClient) {
		return
	}
	switch elem.Attr("type") {
	case protocol.IQGet, protocol.IQSet:
		_ = c.SendAsync(protocol.IQError(elem, protocol.ErrorTypeCancel, protocol.StanzaServiceUnavailable))
	}
}

// SendAsync queues elem for delivery without waiting for it.
func (c *Connection) SendAsync(elem *protocol.Element) error {
	_, err := c.enqueue(elem.Bytes(), c.debugText(elem), false)
	return err
}

// Send queues elem and waits until it has been written to the socket,
// the connection tears down, or ctx is done.
func (c *Connection) Send(ctx context.Context, elem *protocol.Element) error {
	return c.await(ctx, elem.Bytes(), c.debugText(elem))
}

// SendString queues preformatted XML without waiting for it.
func (c *Connection) SendString(s string) error {
	_, err := c.enqueue([]byte(s), "", false)
	return err
}

// SendRaw queues preformatted bytes and waits for delivery.
func (c *Connection) SendRaw(ctx context.Context, payload []byte) error {
	return c.await(ctx, payload, "")
}

func (c *Connection) await(ctx context.Context, payload []byte, debug string) error {
	return c.awaitPacket(ctx, newPacket(payload, debug, true))
}

// sendBeforeUpgrade sends elem and waits for it like Send, then leaves
// the send loop paused with flagSuspendWrite set so nothing else reaches
// the socket until the caller clears the flag.
func (c *Connection) sendBeforeUpgrade(ctx context.Context, elem *protocol.Element) error {
	p := newPacket(elem.Bytes(), c.debugText(elem), true)
	p.suspendWrite = true
	return c.awaitPacket(ctx, p)
}

func (c *Connection) awaitPacket(ctx context.Context, p *packet) error {
	if err := c.push(p); err != nil {
		return err
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) enqueue(payload []byte, debug string, await bool) (*packet, error) {
	p := newPacket(payload, debug, await)
	if err := c.push(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Connection) push(p *packet) error {
	if c.disconnecting.Load() || !c.queue.push(p) {
		return util.ErrConnectionClosed
	}
	return nil
}

func (c *Connection) debugText(elem *protocol.Element) string {
	if !c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return ""
	}
	return elem.String()
}

// sendHeader queues the reply header of a new stream.
func (c *Connection) sendHeader(h protocol.StreamHeader) {
	if _, err := c.enqueue(h.Bytes(), "", false); err == nil {
		c.headerSent.Store(true)
	}
}

// serve runs both I/O loops until the connection has been torn down.
func (c *Connection) serve() {
	var g errgroup.Group
	g.Go(c.receiveLoop)
	g.Go(c.sendLoop)
	_ = g.Wait()

	c.Disconnect("", "")
	<-c.done
}

func (c *Connection) netConn() net.Conn {
	c.ioMu.RLock()
	defer c.ioMu.RUnlock()
	return c.conn
}

func (c *Connection) receiveLoop() error {
	buf := make([]byte, c.server.config.ClampedRecvBufferSize())
	for !c.flags.Has(flagCancelRead) {
		if c.flags.Has(flagSuspendRead) {
			time.Sleep(suspendPollInterval)
			continue
		}

		n, err := c.netConn().Read(buf)
		if n > 0 {
			c.touch()
			if c.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
				c.log.WithField("data", string(buf[:n])).Trace("recv")
			}
			if _, perr := c.parser.Write(buf[:n]); perr != nil {
				c.handleParserError(perr)
				return nil
			}
		}
		if err != nil {
			c.handleReadError(err)
			return nil
		}
	}
	return nil
}

func (c *Connection) handleReadError(err error) {
	cerr := util.NewConnectionError(c.remoteAddr, "read", err)
	if c.flags.Has(flagCancelRead) || util.IsSilentClose(err) {
		c.log.WithError(cerr).Debug("Receive stopped")
		c.Disconnect("", "")
		return
	}
	c.log.WithError(cerr).Warn("Receive failed")
	c.Fail(util.NewStreamError(protocol.StreamInternalServerError, err.Error()))
}

func (c *Connection) handleParserError(err error) {
	switch {
	case errors.Is(err, xmlstream.ErrStreamClosed), errors.Is(err, xmlstream.ErrClosed):
		c.Disconnect("", "")
	default:
		c.log.WithError(err).Info("Malformed stream")
		c.Fail(util.NewStreamError(protocol.StreamInternalServerError, err.Error()))
	}
}

func (c *Connection) sendLoop() error {
	for {
		if c.flags.Has(flagCancelWrite) {
			return nil
		}
		if c.flags.Has(flagSuspendWrite) {
			time.Sleep(suspendPollInterval)
			continue
		}

		p, ok := c.queue.pop()
		if !ok {
			if c.queue.isClosed() {
				return nil
			}
			<-c.queue.wait()
			continue
		}

		err := c.write(p.payload)
		if err == nil && p.suspendWrite {
			c.flags.Set(flagSuspendWrite)
		}
		c.queue.ack()
		if err != nil {
			cerr := util.NewConnectionError(c.remoteAddr, "write", err)
			p.resolve(cerr)
			c.flags.Set(flagCancelWrite)
			if !util.IsSilentClose(err) {
				c.log.WithError(cerr).Warn("Send failed")
			}
			c.disconnect(nil, false)
			return nil
		}
		p.resolve(nil)
		if p.debug != "" {
			c.log.WithField("data", p.debug).Debug("send")
		}
	}
}

func (c *Connection) write(payload []byte) error {
	c.ioMu.RLock()
	defer c.ioMu.RUnlock()
	_, err := c.conn.Write(payload)
	return err
}

// Disconnect closes the stream, optionally reporting a stream error
// condition with text first. Queued output is flushed for up to the
// configured disconnect timeout. Calls after the first have no effect.
func (c *Connection) Disconnect(condition, text string) {
	var elem *protocol.Element
	if condition != "" {
		elem = protocol.StreamError(condition, text)
	}
	c.disconnect(elem, true)
}

// Fail disconnects with the stream error condition err maps to; see
// util.ToStreamCondition. A *util.StreamError also supplies the text.
// A nil err closes the stream without an error.
func (c *Connection) Fail(err error) {
	var se *util.StreamError
	text := ""
	if errors.As(err, &se) {
		text = se.Text
	}
	c.Disconnect(util.ToStreamCondition(err), text)
}

// Close disconnects without a stream error.
func (c *Connection) Close() error {
	c.Disconnect("", "")
	return nil
}

// disconnect runs the synchronous first phase of teardown and starts the
// second. When farewell is false nothing more is written to the peer.
func (c *Connection) disconnect(elem *protocol.Element, farewell bool) {
	if !c.disconnecting.CompareAndSwap(false, true) {
		return
	}

	c.flags.Set(flagCancelRead | flagSuspendRead)
	c.state.Clear(StateConnected)
	c.disposed.Store(uint32(disposePartial))

	if farewell {
		c.queueFarewell(elem)
	} else {
		c.queue.seal()
	}

	if elem != nil {
		c.log.WithField("condition", elem.FirstChild().Name()).Info("Disconnecting")
	} else {
		c.log.Debug("Disconnecting")
	}

	c.cancel()
	c.stopReading()
	c.server.remove(c)
	c.notifyDisconnect()

	go c.dispose()
}

// queueFarewell queues the optional error and the closing tag as the
// final packet. A stream that never got a header gets one first so the
// error is well formed; with no header and no error nothing is sent.
func (c *Connection) queueFarewell(elem *protocol.Element) {
	var buf bytes.Buffer
	if !c.headerSent.Load() {
		if elem == nil {
			c.queue.seal()
			return
		}
		h := protocol.StreamHeader{
			From:    c.server.config.Domain,
			ID:      newStreamID(),
			Version: protocol.StreamVersion,
			Lang:    "en",
		}
		buf.Write(h.Bytes())
	}
	if elem != nil {
		elem.WriteTo(&buf, protocol.NSClient)
	}
	buf.WriteString(protocol.StreamEnd)
	c.queue.pushFinal(newPacket(buf.Bytes(), "", false))
}

// stopReading unblocks a pending read without touching the write side.
func (c *Connection) stopReading() {
	if cr, ok := c.raw.(interface{ CloseRead() error }); ok {
		if err := cr.CloseRead(); err == nil {
			return
		}
	}
	_ = c.raw.SetReadDeadline(time.Now())
}

func (c *Connection) notifyDisconnect() {
	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.observers = make(map[uint64]Observer)
	c.obsMu.Unlock()

	for _, o := range observers {
		o.OnDisconnect(c)
	}
}

// dispose is the second phase of teardown: wait for queued output to
// drain, then release every resource.
func (c *Connection) dispose() {
	deadline := time.Now().Add(c.server.config.Timeouts.Disconnect)
	for !c.queue.drained() && !c.flags.Has(flagCancelWrite) && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
	c.forceClose()
}

// forceClose finishes teardown immediately, dropping unsent output.
func (c *Connection) forceClose() {
	if !c.disposed.CompareAndSwap(uint32(disposePartial), uint32(disposeFull)) {
		return
	}
	c.flags.Set(flagCancelWrite | flagSuspendWrite)
	for _, p := range c.queue.close() {
		p.resolve(util.ErrConnectionClosed)
	}
	_ = c.parser.Close()
	_ = c.raw.Close()
	c.log.Debug("Connection closed")
	close(c.done)
}

// isDisposed reports whether teardown has fully finished.
func (c *Connection) isDisposed() bool {
	return disposeState(c.disposed.Load()) == disposeFull
}
