package protocol

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Prebuilt is an outbound packet whose payload is resolved from a cache
// instead of being encoded per send. Prebuilt values are not Packets and
// cannot be encoded directly.
type Prebuilt interface {
	Payload(protocol int32) ([]byte, error)
}

// BuiltPacket is a payload encoded once and reused for every connection.
// Use it only for packets whose layout does not change across supported
// protocol versions.
type BuiltPacket struct {
	id      int32
	name    string
	payload []byte
}

// NewBuiltPacket encodes p for protocol once.
func NewBuiltPacket(p Packet, protocol int32) (*BuiltPacket, error) {
	payload, err := Marshal(p, protocol)
	if err != nil {
		return nil, err
	}
	return &BuiltPacket{id: p.ID(protocol), name: Name(p), payload: payload}, nil
}

// NewRawBuiltPacket wraps an already encoded body.
func NewRawBuiltPacket(id int32, body []byte) *BuiltPacket {
	payload := AppendVarInt(make([]byte, 0, len(body)+MaxVarIntLen), id)
	return &BuiltPacket{id: id, name: fmt.Sprintf("raw(0x%02x)", id), payload: append(payload, body...)}
}

// ID returns the packet id baked into the payload.
func (b *BuiltPacket) ID() int32 {
	return b.id
}

// Name returns the label of the packet the payload was built from.
func (b *BuiltPacket) Name() string {
	return b.name
}

// Payload returns the shared bytes regardless of protocol. Callers must not
// modify the slice.
func (b *BuiltPacket) Payload(int32) ([]byte, error) {
	return b.payload, nil
}

// PacketFactory builds the live packet to encode for a protocol.
type PacketFactory func(protocol int32) Packet

// Cache resolution outcomes reported to the observer.
const (
	ResolveHit      = "hit"
	ResolveEncode   = "encode"
	ResolveFallback = "fallback"
)

// ProtocolizedBuiltPacket caches one payload per breakpoint protocol. A
// protocol between breakpoints shares the bytes of the greatest breakpoint
// not above it; a protocol below every breakpoint uses the lowest one.
// Resolved payloads are memoized under the exact protocol requested.
type ProtocolizedBuiltPacket struct {
	factory     PacketFactory
	breakpoints []int32
	lazy        bool
	cache       sync.Map
	observe     func(outcome string)
}

// ErrNoBreakpoints is returned when a cache is built without breakpoints.
var ErrNoBreakpoints = errors.New("protocolized packet needs at least one breakpoint")

// NewProtocolizedBuiltPacket creates a cache over breakpoints. When lazy is
// false every breakpoint is encoded immediately.
func NewProtocolizedBuiltPacket(factory PacketFactory, breakpoints []int32, lazy bool) (*ProtocolizedBuiltPacket, error) {
	if len(breakpoints) == 0 {
		return nil, ErrNoBreakpoints
	}
	bps := slices.Clone(breakpoints)
	slices.Sort(bps)
	bps = slices.Compact(bps)

	b := &ProtocolizedBuiltPacket{factory: factory, breakpoints: bps, lazy: lazy}
	if !lazy {
		for _, p := range bps {
			if _, err := b.encode(p); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

// SetObserver registers a callback for cache outcomes. It must be called
// before the packet is shared between connections.
func (b *ProtocolizedBuiltPacket) SetObserver(fn func(outcome string)) {
	b.observe = fn
}

// Breakpoints returns a copy of the sorted breakpoint list.
func (b *ProtocolizedBuiltPacket) Breakpoints() []int32 {
	return slices.Clone(b.breakpoints)
}

// Payload resolves the bytes for protocol.
func (b *ProtocolizedBuiltPacket) Payload(protocol int32) ([]byte, error) {
	if v, ok := b.cache.Load(protocol); ok {
		b.report(ResolveHit)
		return v.([]byte), nil
	}
	if _, exact := slices.BinarySearch(b.breakpoints, protocol); exact {
		// Only reachable in lazy mode; eager mode filled every breakpoint.
		b.report(ResolveEncode)
		return b.encode(protocol)
	}

	low := b.floor(protocol)
	if v, ok := b.cache.Load(low); ok {
		b.cache.Store(protocol, v)
		b.report(ResolveFallback)
		return v.([]byte), nil
	}
	payload, err := b.encode(low)
	if err != nil {
		return nil, err
	}
	b.cache.Store(protocol, payload)
	b.report(ResolveEncode)
	return payload, nil
}

// floor returns the greatest breakpoint <= protocol, or the lowest breakpoint.
func (b *ProtocolizedBuiltPacket) floor(protocol int32) int32 {
	i, _ := slices.BinarySearch(b.breakpoints, protocol)
	if i == 0 {
		return b.breakpoints[0]
	}
	return b.breakpoints[i-1]
}

func (b *ProtocolizedBuiltPacket) encode(protocol int32) ([]byte, error) {
	payload, err := Marshal(b.factory(protocol), protocol)
	if err != nil {
		return nil, fmt.Errorf("build for protocol %d: %w", protocol, err)
	}
	b.cache.Store(protocol, payload)
	return payload, nil
}

func (b *ProtocolizedBuiltPacket) report(outcome string) {
	if b.observe != nil {
		b.observe(outcome)
	}
}
