package xmlstream

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
)

const testHeader = `<?xml version='1.0'?><stream:stream xmlns='jabber:client' ` +
	`xmlns:stream='http://etherx.jabber.org/streams' to='localhost' version='1.0'>`

type recorder struct {
	mu       sync.Mutex
	headers  []protocol.StreamHeader
	elements []*protocol.Element
	ends     int

	onElement func(*protocol.Element)
}

func (r *recorder) OnStreamStart(h protocol.StreamHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = append(r.headers, h)
}

func (r *recorder) OnElement(e *protocol.Element) {
	r.mu.Lock()
	r.elements = append(r.elements, e)
	fn := r.onElement
	r.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (r *recorder) OnStreamEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
}

func TestParser_SingleChunk(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	defer p.Close()

	in := testHeader + `<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='PLAIN'>AGJvYgBzZWNyZXQ=</auth>`
	if _, err := p.Write([]byte(in)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(rec.headers) != 1 {
		t.Fatalf("headers = %d, want 1", len(rec.headers))
	}
	if rec.headers[0].To != "localhost" {
		t.Errorf("header To = %q, want localhost", rec.headers[0].To)
	}
	if len(rec.elements) != 1 {
		t.Fatalf("elements = %d, want 1", len(rec.elements))
	}
	auth := rec.elements[0]
	if !auth.Is(protocol.ElemAuth, protocol.NSSASL) {
		t.Errorf("element = %v, want sasl auth", auth.XMLName)
	}
	if got := auth.Attr("mechanism"); got != "PLAIN" {
		t.Errorf("mechanism = %q, want PLAIN", got)
	}
	if got := auth.TrimmedText(); got != "AGJvYgBzZWNyZXQ=" {
		t.Errorf("text = %q", got)
	}
}

func TestParser_ByteByByte(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	defer p.Close()

	in := testHeader + ` <message to='bob@localhost'><body>hi</body></message> <presence/>`
	for i := 0; i < len(in); i++ {
		if _, err := p.Write([]byte{in[i]}); err != nil {
			t.Fatalf("Write() byte %d error = %v", i, err)
		}
	}

	if len(rec.elements) != 2 {
		t.Fatalf("elements = %d, want 2", len(rec.elements))
	}
	msg := rec.elements[0]
	if !msg.Is(protocol.ElemMessage, protocol.NSClient) {
		t.Errorf("first element = %v, want client message", msg.XMLName)
	}
	if body := msg.Child("body", ""); body == nil || body.Text != "hi" {
		t.Errorf("body = %+v, want hi", body)
	}
	if !rec.elements[1].Is(protocol.ElemPresence, protocol.NSClient) {
		t.Errorf("second element = %v, want presence", rec.elements[1].XMLName)
	}
}

func TestParser_StreamEnd(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	defer p.Close()

	_, err := p.Write([]byte(testHeader + `</stream:stream>`))
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Write() error = %v, want %v", err, ErrStreamClosed)
	}
	if rec.ends != 1 {
		t.Errorf("ends = %d, want 1", rec.ends)
	}

	if _, err := p.Write([]byte("<x/>")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Write() after end error = %v, want %v", err, ErrStreamClosed)
	}
}

func TestParser_ResetFromCallback(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	defer p.Close()
	rec.onElement = func(e *protocol.Element) {
		if e.Name() == protocol.ElemAuth {
			p.Reset()
		}
	}

	if _, err := p.Write([]byte(testHeader + `<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='PLAIN'/>`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// A restarted stream sends a fresh header without closing the old one.
	if _, err := p.Write([]byte(testHeader + `<iq type='get' id='1'/>`)); err != nil {
		t.Fatalf("Write() after reset error = %v", err)
	}

	if len(rec.headers) != 2 {
		t.Fatalf("headers = %d, want 2", len(rec.headers))
	}
	if len(rec.elements) != 2 || rec.elements[1].Name() != protocol.ElemIQ {
		t.Errorf("elements = %d, want auth then iq", len(rec.elements))
	}
}

func TestParser_ResetWhileWaiting(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec)
	defer p.Close()

	if _, err := p.Write([]byte(testHeader)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	p.Reset()
	if _, err := p.Write([]byte(testHeader)); err != nil {
		t.Fatalf("Write() after reset error = %v", err)
	}
	if len(rec.headers) != 2 {
		t.Errorf("headers = %d, want 2", len(rec.headers))
	}
}

func TestParser_NotStream(t *testing.T) {
	p := NewParser(&recorder{})
	defer p.Close()

	_, err := p.Write([]byte(`<html><body/></html>`))
	if !errors.Is(err, ErrNotStream) {
		t.Errorf("Write() error = %v, want %v", err, ErrNotStream)
	}
}

func TestParser_Malformed(t *testing.T) {
	p := NewParser(&recorder{})
	defer p.Close()

	_, err := p.Write([]byte(testHeader + `<message></presence>`))
	if err == nil {
		t.Fatal("Write() error = nil, want decode error")
	}
	if errors.Is(err, ErrStreamClosed) || errors.Is(err, ErrClosed) {
		t.Errorf("Write() error = %v, want a decode error", err)
	}
}

func TestParser_Close(t *testing.T) {
	p := NewParser(&recorder{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	<-p.Done()

	if _, err := p.Write([]byte(testHeader)); err == nil {
		t.Error("Write() after Close should fail")
	}
}
