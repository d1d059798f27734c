package protocol

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// versionedPong encodes the protocol it was built for, so payloads reveal
// which breakpoint produced them.
func versionedPong(calls *atomic.Int32) PacketFactory {
	return func(protocol int32) Packet {
		calls.Add(1)
		return &PongResponse{Payload: int64(protocol)}
	}
}

func payloadFor(t *testing.T, protocol int32) []byte {
	t.Helper()
	b, err := Marshal(&PongResponse{Payload: int64(protocol)}, protocol)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestProtocolizedBreakpointResolution(t *testing.T) {
	for _, lazy := range []bool{true, false} {
		var calls atomic.Int32
		b, err := NewProtocolizedBuiltPacket(versionedPong(&calls), []int32{15, 5, 10}, lazy)
		if err != nil {
			t.Fatal(err)
		}

		tests := []struct{ protocol, breakpoint int32 }{
			{6, 5},
			{12, 10},
			{100, 15},
			{0, 5},
			{5, 5},
			{10, 10},
			{15, 15},
		}
		for _, tt := range tests {
			got, err := b.Payload(tt.protocol)
			if err != nil {
				t.Fatalf("lazy=%v Payload(%d) failed: %v", lazy, tt.protocol, err)
			}
			if want := payloadFor(t, tt.breakpoint); !bytes.Equal(got, want) {
				t.Errorf("lazy=%v Payload(%d) = %x, want breakpoint %d bytes %x", lazy, tt.protocol, got, tt.breakpoint, want)
			}
		}
		if n := calls.Load(); n != 3 {
			t.Errorf("lazy=%v factory called %d times, want once per breakpoint", lazy, n)
		}
	}
}

func TestProtocolizedEagerEncodesUpFront(t *testing.T) {
	var calls atomic.Int32
	if _, err := NewProtocolizedBuiltPacket(versionedPong(&calls), []int32{5, 10}, false); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Fatalf("eager construction called factory %d times, want 2", calls.Load())
	}

	calls.Store(0)
	if _, err := NewProtocolizedBuiltPacket(versionedPong(&calls), []int32{5, 10}, true); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Fatalf("lazy construction called factory %d times, want 0", calls.Load())
	}
}

func TestProtocolizedMemoizesExactProtocol(t *testing.T) {
	var calls atomic.Int32
	b, err := NewProtocolizedBuiltPacket(versionedPong(&calls), []int32{5}, true)
	if err != nil {
		t.Fatal(err)
	}
	var outcomes []string
	b.SetObserver(func(o string) { outcomes = append(outcomes, o) })

	b.Payload(7)
	b.Payload(7)
	b.Payload(8)
	want := []string{ResolveEncode, ResolveHit, ResolveFallback}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("outcomes = %v, want %v", outcomes, want)
		}
	}
}

func TestProtocolizedRequiresBreakpoints(t *testing.T) {
	_, err := NewProtocolizedBuiltPacket(func(int32) Packet { return &PongResponse{} }, nil, true)
	if !errors.Is(err, ErrNoBreakpoints) {
		t.Fatalf("expected ErrNoBreakpoints, got %v", err)
	}
}

func TestProtocolizedConcurrentResolve(t *testing.T) {
	var calls atomic.Int32
	b, err := NewProtocolizedBuiltPacket(versionedPong(&calls), SupportedProtocols(), true)
	if err != nil {
		t.Fatal(err)
	}
	want := make(map[int32][]byte)
	for _, p := range SupportedProtocols() {
		want[p] = payloadFor(t, p)
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(p int32) {
			defer wg.Done()
			got, err := b.Payload(p)
			if err != nil {
				t.Error(err)
				return
			}
			if !bytes.Equal(got, want[p]) {
				t.Errorf("Payload(%d) returned another protocol's bytes", p)
			}
		}(MinProtocol + int32(i)%int32(len(SupportedProtocols())))
	}
	wg.Wait()
}

func TestBuiltPacketReusesBytes(t *testing.T) {
	b, err := NewBuiltPacket(&LoginDisconnect{Reason: PlainText("bye")}, MaxProtocol)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := b.Payload(MinProtocol)
	second, _ := b.Payload(MaxProtocol)
	if &first[0] != &second[0] {
		t.Fatal("BuiltPacket must return the same backing bytes")
	}
	if b.ID() != IDLoginDisconnect || b.Name() != "LoginDisconnect" {
		t.Fatalf("ID/Name = %d/%s", b.ID(), b.Name())
	}

	raw := NewRawBuiltPacket(IDPongResponse, []byte{1, 2})
	p, _ := raw.Payload(0)
	if !bytes.Equal(p, []byte{byte(IDPongResponse), 1, 2}) {
		t.Fatalf("raw payload = %x", p)
	}
}
