// Package xmlstream turns a raw XMPP byte stream into stream events.
//
// A Parser is fed socket chunks with Write and reports the stream header,
// each complete top-level element and the closing tag to a Handler. The
// decoding itself is done by encoding/xml running on a dedicated goroutine
// that pulls bytes from the chunks handed to Write; Write returns only once
// its chunk has been fully consumed, so handler callbacks for a chunk always
// run before the next chunk is read from the socket.
package xmlstream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

// Parser errors
var (
	ErrClosed       = errors.New("xml parser closed")
	ErrStreamClosed = errors.New("xml stream closed by peer")
	ErrNotStream    = errors.New("root element is not stream:stream")
	errReset        = errors.New("xml parser reset")
)

// Handler receives stream events. All callbacks run on the parser's
// decoding goroutine, one at a time, in stream order.
type Handler interface {
	OnStreamStart(header protocol.StreamHeader)
	OnElement(elem *protocol.Element)
	OnStreamEnd()
}

// Parser is a push-style XMPP stream parser bound to one connection.
type Parser struct {
	handler Handler

	input   chan []byte
	want    chan struct{}
	resetCh chan struct{}
	closed  chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewParser creates a parser and starts its decoding goroutine.
func NewParser(h Handler) *Parser {
	p := &Parser{
		handler: h,
		input:   make(chan []byte),
		want:    make(chan struct{}),
		resetCh: make(chan struct{}, 1),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Write feeds a chunk of stream bytes and blocks until the chunk has been
// consumed or the parser stops. The chunk is copied, so the caller may reuse
// its buffer once Write returns.
func (p *Parser) Write(chunk []byte) (int, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	select {
	case p.input <- buf:
	case <-p.done:
		return 0, p.Err()
	case <-p.closed:
		return 0, ErrClosed
	}

	select {
	case <-p.want:
		return len(chunk), nil
	case <-p.done:
		return len(chunk), p.Err()
	case <-p.closed:
		return 0, ErrClosed
	}
}

// Reset discards decoder state so the next bytes are read as a fresh
// stream. Bytes already handed to the parser but not yet decoded are kept.
// Safe to call from a handler callback or from another goroutine.
func (p *Parser) Reset() {
	select {
	case p.resetCh <- struct{}{}:
	default:
	}
}

// Close stops the decoding goroutine. It does not wait for it to exit.
func (p *Parser) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}

// Done is closed when the decoding goroutine has exited.
func (p *Parser) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that stopped the parser, if any.
func (p *Parser) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Parser) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

func (p *Parser) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Parser) run() {
	defer close(p.done)

	r := &chunkReader{p: p}
	dec := xml.NewDecoder(r)
	inStream := false

	for {
		select {
		case <-p.resetCh:
			dec = xml.NewDecoder(r)
			inStream = false
		default:
		}

		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, errReset) {
				dec = xml.NewDecoder(r)
				inStream = false
				continue
			}
			if p.isClosed() {
				p.setErr(ErrClosed)
				return
			}
			p.setErr(fmt.Errorf("xml decode: %w", err))
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !inStream {
				if t.Name.Space != protocol.NSStream || t.Name.Local != protocol.ElemStream {
					p.setErr(fmt.Errorf("%w: got <%s>", ErrNotStream, t.Name.Local))
					return
				}
				inStream = true
				p.handler.OnStreamStart(protocol.ParseStreamHeader(t))
				continue
			}
			elem := new(protocol.Element)
			if err := dec.DecodeElement(elem, &t); err != nil {
				if errors.Is(err, errReset) {
					dec = xml.NewDecoder(r)
					inStream = false
					continue
				}
				if p.isClosed() {
					p.setErr(ErrClosed)
					return
				}
				p.setErr(fmt.Errorf("xml decode <%s>: %w", t.Name.Local, err))
				return
			}
			elem.StripNamespaceDecls()
			p.handler.OnElement(elem)
		case xml.EndElement:
			// Only the stream's own end tag can surface at this depth.
			p.handler.OnStreamEnd()
			p.setErr(ErrStreamClosed)
			return
		}
	}
}

// chunkReader hands Write chunks to the decoder one byte at a time.
// Implementing io.ByteReader keeps encoding/xml from adding its own
// buffering, so no bytes are read ahead of what the decoder needs.
type chunkReader struct {
	p    *Parser
	buf  []byte
	owed bool
}

func (r *chunkReader) ReadByte() (byte, error) {
	for len(r.buf) == 0 {
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *chunkReader) Read(b []byte) (int, error) {
	for len(r.buf) == 0 {
		if err := r.next(); err != nil {
			return 0, err
		}
	}
	n := copy(b, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// next releases the Write that delivered the previous chunk and waits for
// the following one.
func (r *chunkReader) next() error {
	if r.owed {
		select {
		case r.p.want <- struct{}{}:
			r.owed = false
		case <-r.p.closed:
			return io.EOF
		}
	}
	select {
	case <-r.p.resetCh:
		return errReset
	default:
	}
	select {
	case chunk := <-r.p.input:
		r.buf = chunk
		r.owed = true
		return nil
	case <-r.p.resetCh:
		return errReset
	case <-r.p.closed:
		return io.EOF
	}
}
