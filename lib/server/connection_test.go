package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-i2p/go-xmpp-server/lib/protocol"
	"github.com/go-i2p/go-xmpp-server/lib/util"
)

// newPipeConnection runs a Connection over an in-memory pipe and returns
// the client end.
func newPipeConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	s, err := NewServer(testConfig(), testRegistry(), quietLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	serverSide, clientSide := net.Pipe()
	c := newConnection(s, serverSide)
	go c.serve()
	t.Cleanup(func() {
		clientSide.Close()
		c.Disconnect("", "")
		c.forceClose()
	})
	return c, clientSide
}

func TestConnection_InitialState(t *testing.T) {
	c, _ := newPipeConnection(t)

	if !c.IsConnected() {
		t.Error("IsConnected() = false for new connection")
	}
	if c.IsAuthenticated() {
		t.Error("IsAuthenticated() = true for new connection")
	}
	if c.ID() == "" {
		t.Error("ID() is empty")
	}
	if !c.JID().IsZero() {
		t.Errorf("JID() = %v, want zero", c.JID())
	}
	if c.IdleDuration() > time.Second {
		t.Errorf("IdleDuration() = %v for new connection", c.IdleDuration())
	}
}

func TestConnection_SendOrder(t *testing.T) {
	c, client := newPipeConnection(t)

	const count = 50
	for i := 0; i < count; i++ {
		msg := protocol.NewElement(protocol.ElemMessage, protocol.NSClient).WithAttr("id", fmt.Sprint(i))
		if err := c.SendAsync(msg); err != nil {
			t.Fatalf("SendAsync(%d) error = %v", i, err)
		}
	}

	var got strings.Builder
	buf := make([]byte, 1024)
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for strings.Count(got.String(), "<message") < count {
		n, err := client.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}

	out := got.String()
	last := -1
	for i := 0; i < count; i++ {
		idx := strings.Index(out, fmt.Sprintf(`id="%d"`, i))
		if idx <= last {
			t.Fatalf("message %d out of order in %q", i, out)
		}
		last = idx
	}
}

func TestConnection_SendWaitsForDelivery(t *testing.T) {
	c, client := newPipeConnection(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Send(context.Background(), protocol.TLSProceed())
	}()

	select {
	case err := <-errCh:
		t.Fatalf("Send() returned %v before the peer read", err)
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 256)
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Send() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Send() did not complete after delivery")
	}
}

func TestConnection_SendContextCanceled(t *testing.T) {
	c, _ := newPipeConnection(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Nobody reads the pipe, so the write never completes.
	if err := c.Send(ctx, protocol.TLSProceed()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want DeadlineExceeded", err)
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	c, client := newPipeConnection(t)

	var calls atomic.Int32
	c.Subscribe(ObserverFuncs{Disconnect: func(*Connection) { calls.Add(1) }})

	outCh := make(chan string, 1)
	go func() {
		_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
		b, _ := io.ReadAll(client)
		outCh <- string(b)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect(protocol.StreamPolicyViolation, "bye")
		}()
	}
	wg.Wait()

	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("OnDisconnect called %d times, want 1", got)
	}
	if err := c.SendAsync(protocol.TLSProceed()); !errors.Is(err, util.ErrConnectionClosed) {
		t.Errorf("SendAsync() after Disconnect error = %v, want ErrConnectionClosed", err)
	}

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done() not closed after Disconnect")
	}

	out := <-outCh
	if strings.Count(out, protocol.StreamEnd) != 1 {
		t.Errorf("output = %q, want exactly one closing tag", out)
	}
	if strings.Count(out, "<policy-violation") != 1 {
		t.Errorf("output = %q, want one policy-violation", out)
	}
	// No header had been sent, so one is emitted before the error.
	if !strings.HasPrefix(out, "<?xml") {
		t.Errorf("output = %q, want stream header first", out)
	}
}

func TestConnection_DisconnectResolvesEveryCompletion(t *testing.T) {
	c, _ := newPipeConnection(t)

	// Nobody reads the pipe: the first packet blocks in the write and
	// the rest stay queued until teardown drops them.
	var packets []*packet
	for i := 0; i < 20; i++ {
		p, err := c.enqueue([]byte(fmt.Sprintf(`<message id="%d"/>`, i)), "", true)
		if err != nil {
			t.Fatalf("enqueue(%d) error = %v", i, err)
		}
		packets = append(packets, p)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect(protocol.StreamSystemShutdown, "")
		}()
	}
	wg.Wait()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done() not closed after Disconnect")
	}

	for i, p := range packets {
		select {
		case err, ok := <-p.done:
			if !ok {
				t.Fatalf("packet %d: completion closed without a result", i)
			}
			if err == nil {
				t.Errorf("packet %d: completion = nil, want an error", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("packet %d: completion never resolved", i)
		}
		if _, ok := <-p.done; ok {
			t.Errorf("packet %d: completion resolved more than once", i)
		}
	}
}

func TestConnection_WritesPausedAfterUpgradePacket(t *testing.T) {
	c, client := newPipeConnection(t)

	proceed := protocol.TLSProceed().String()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.sendBeforeUpgrade(context.Background(), protocol.TLSProceed())
	}()

	buf := make([]byte, 256)
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != proceed {
		t.Fatalf("Read() = %q, want %q", got, proceed)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendBeforeUpgrade() error = %v", err)
	}
	if !c.flags.Has(flagSuspendWrite) {
		t.Fatal("send loop not suspended after the upgrade packet")
	}

	// Output queued during the upgrade must wait for it.
	if err := c.SendString("<presence/>"); err != nil {
		t.Fatalf("SendString() error = %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if n, err := client.Read(buf); err == nil {
		t.Fatalf("Read() = %q while writes were suspended", buf[:n])
	}

	c.flags.Clear(flagSuspendWrite)
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("Read() after resume error = %v", err)
	}
	if got := string(buf[:n]); got != "<presence/>" {
		t.Errorf("Read() after resume = %q, want %q", got, "<presence/>")
	}
}

func TestConnection_Fail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"stream error", util.NewStreamError(protocol.StreamConflict, "Replaced"), []string{"<conflict", ">Replaced</text>"}},
		{"sentinel", util.ErrHostUnknown, []string{"<host-unknown"}},
		{"shutdown", util.ErrServerClosed, []string{"<system-shutdown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client := newPipeConnection(t)
			outCh := make(chan string, 1)
			go func() {
				_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
				b, _ := io.ReadAll(client)
				outCh <- string(b)
			}()

			c.Fail(tt.err)
			out := <-outCh
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("Fail(%v) output = %q, want %q", tt.err, out, w)
				}
			}
		})
	}
}

func TestConnection_DisconnectTimeoutDropsOutput(t *testing.T) {
	c, _ := newPipeConnection(t)

	// The pipe is never read, so the queued output cannot drain.
	pending := make(chan error, 1)
	go func() {
		pending <- c.Send(context.Background(), protocol.TLSProceed())
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	c.Disconnect("", "")
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done() not closed after disconnect timeout")
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("teardown finished after %v, want about the disconnect timeout", elapsed)
	}

	select {
	case err := <-pending:
		if err == nil {
			t.Error("Send() succeeded although the peer never read")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending Send() never resolved")
	}
}

func TestConnection_SubscribeAfterDisconnect(t *testing.T) {
	c, client := newPipeConnection(t)
	client.Close()
	c.Disconnect("", "")

	called := false
	unsubscribe := c.Subscribe(ObserverFuncs{Disconnect: func(*Connection) { called = true }})
	unsubscribe()
	if !called {
		t.Error("late subscriber was not told about the disconnect")
	}
}

func TestConnection_Unsubscribe(t *testing.T) {
	c, client := newPipeConnection(t)

	var calls atomic.Int32
	unsubscribe := c.Subscribe(ObserverFuncs{Disconnect: func(*Connection) { calls.Add(1) }})
	unsubscribe()

	client.Close()
	c.Disconnect("", "")
	if got := calls.Load(); got != 0 {
		t.Errorf("OnDisconnect called %d times after unsubscribe", got)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5222}, "10.1.2.3"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := hostOf(tt.addr); got != tt.want {
			t.Errorf("hostOf(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestNewStreamID(t *testing.T) {
	a, b := newStreamID(), newStreamID()
	if a == "" || a == b {
		t.Errorf("newStreamID() = %q, %q, want distinct non-empty ids", a, b)
	}
}

func TestConnection_SendString(t *testing.T) {
	c, client := newPipeConnection(t)

	if err := c.SendString("<presence/>"); err != nil {
		t.Fatalf("SendString() error = %v", err)
	}
	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "<presence/>" {
		t.Errorf("SendString() wrote %q, want %q", got, "<presence/>")
	}
}
