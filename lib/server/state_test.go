package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-i2p/go-xmpp-server/lib/util"
)

func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateNone, "NONE"},
		{StateConnected, "CONNECTED"},
		{StateConnected | StateAuthenticated, "CONNECTED|AUTHENTICATED"},
		{StateConnected | StateEncrypted | StateResourceBinded, "CONNECTED|ENCRYPTED|RESOURCE_BINDED"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAtomicState_SetClear(t *testing.T) {
	var s atomicState
	if !s.Set(StateConnected) {
		t.Error("Set(Connected) = false on empty state")
	}
	if s.Set(StateConnected) {
		t.Error("Set(Connected) = true when already set")
	}
	s.Set(StateAuthenticated)
	if got := s.Load(); !got.Has(StateConnected | StateAuthenticated) {
		t.Errorf("Load() = %v, want CONNECTED|AUTHENTICATED", got)
	}
	if !s.Clear(StateConnected) {
		t.Error("Clear(Connected) = false when set")
	}
	if s.Clear(StateConnected) {
		t.Error("Clear(Connected) = true when already clear")
	}
	if got := s.Load(); got != StateAuthenticated {
		t.Errorf("Load() = %v, want AUTHENTICATED", got)
	}
}

func TestAtomicState_ConcurrentSetOnce(t *testing.T) {
	var s atomicState
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Set(StateAuthenticated) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("Set() succeeded %d times, want 1", winners)
	}
}

func TestAtomicFlags(t *testing.T) {
	var f atomicFlags
	f.Set(flagCancelRead | flagSuspendRead)
	if !f.Has(flagCancelRead) || !f.Has(flagSuspendRead) {
		t.Error("Has() = false after Set")
	}
	f.Clear(flagSuspendRead)
	if f.Has(flagSuspendRead) {
		t.Error("Has(SuspendRead) = true after Clear")
	}
	if !f.Has(flagCancelRead) {
		t.Error("Clear removed an unrelated flag")
	}
}

func TestSendQueue_FIFO(t *testing.T) {
	q := newSendQueue()
	for i := 0; i < 5; i++ {
		if !q.push(newPacket([]byte{byte(i)}, "", false)) {
			t.Fatalf("push(%d) = false", i)
		}
	}
	for i := 0; i < 5; i++ {
		p, ok := q.pop()
		if !ok {
			t.Fatalf("pop() empty at %d", i)
		}
		if p.payload[0] != byte(i) {
			t.Errorf("pop() = %d, want %d", p.payload[0], i)
		}
		q.ack()
	}
	if !q.drained() {
		t.Error("drained() = false after acking everything")
	}
}

func TestSendQueue_SealAndClose(t *testing.T) {
	q := newSendQueue()
	q.push(newPacket([]byte("a"), "", false))
	if !q.pushFinal(newPacket([]byte("end"), "", false)) {
		t.Fatal("pushFinal() = false on open queue")
	}
	if q.push(newPacket([]byte("late"), "", false)) {
		t.Error("push() after pushFinal = true, want false")
	}

	waiting := newPacket([]byte("w"), "", true)
	q2 := newSendQueue()
	q2.push(waiting)
	rest := q2.close()
	if len(rest) != 1 {
		t.Fatalf("close() returned %d packets, want 1", len(rest))
	}
	rest[0].resolve(util.ErrConnectionClosed)
	rest[0].resolve(nil)
	if err := <-waiting.done; !errors.Is(err, util.ErrConnectionClosed) {
		t.Errorf("done = %v, want ErrConnectionClosed", err)
	}
	if !q2.drained() {
		t.Error("drained() = false after close")
	}
	if q.len() != 2 {
		t.Errorf("len() = %d, want 2", q.len())
	}
}

func TestThrottle(t *testing.T) {
	th := newThrottle(200 * time.Millisecond)
	if _, ok := th.Admit("10.0.0.1"); !ok {
		t.Fatal("Admit() rejected unknown address")
	}
	wait, ok := th.Admit("10.0.0.1")
	if ok {
		t.Fatal("Admit() accepted a second connection inside the window")
	}
	if wait <= 0 || wait > 200*time.Millisecond {
		t.Errorf("Admit() wait = %v, want (0, 200ms]", wait)
	}
	if _, ok := th.Admit("10.0.0.2"); !ok {
		t.Error("Admit() rejected a different address")
	}

	th.Release("10.0.0.1")
	if _, ok := th.Admit("10.0.0.1"); !ok {
		t.Error("Admit() rejected released address")
	}

	th.Admit("10.0.0.3")
	time.Sleep(250 * time.Millisecond)
	if _, ok := th.Admit("10.0.0.3"); !ok {
		t.Error("Admit() rejected after window expired")
	}
}

func TestThrottle_ConcurrentAdmit(t *testing.T) {
	th := newThrottle(time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := th.Admit("10.0.0.1"); ok {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("Admit() let %d simultaneous connections in, want 1", got)
	}
}

func TestThrottle_Disabled(t *testing.T) {
	th := newThrottle(0)
	for i := 0; i < 2; i++ {
		if _, ok := th.Admit("10.0.0.1"); !ok {
			t.Error("disabled throttle rejected a connection")
		}
	}
	if th.Len() != 0 {
		t.Errorf("Len() = %d, want 0", th.Len())
	}
}

func TestThrottleMessage(t *testing.T) {
	got := throttleMessage(1500 * time.Millisecond)
	want := "Connection throttle - Wait 1.50 second(s) before connecting again."
	if got != want {
		t.Errorf("throttleMessage() = %q, want %q", got, want)
	}
}
