// Package protocol implements the wire format spoken between game clients and
// the proxy: VarInt primitives, length-prefixed frames, the packet catalogue,
// per-version provider groups and the pre-serialized packet cache.
//
// Frame format:
//
//	frame   := VarInt(len) ++ payload[len]
//	payload := VarInt(packetId) ++ body
package protocol

import (
	"fmt"
	"strings"
)

// State is the lifecycle phase of a connection. The numeric values are also
// the handshake "next state" codes for Status, Login and Transfer.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateTransfer
	StateConfig
	StateClosed
)

var stateNames = [...]string{"HANDSHAKE", "STATUS", "LOGIN", "TRANSFER", "CONFIG", "CLOSED"}

// String returns the upper-case state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Packet is one protocol message. ID and Encode are pure functions of the
// protocol version; encoders never consult connection state.
type Packet interface {
	ID(protocol int32) int32
	Encode(w *Writer, protocol int32) error
}

// Decoder reads a packet body that follows the packet id.
type Decoder func(r *Reader, protocol int32) (Packet, error)

// Serverbound packet ids.
const (
	IDHandshake int32 = 0x00

	IDStatusRequest int32 = 0x00
	IDPingRequest   int32 = 0x01

	IDLoginStart          int32 = 0x00
	IDEncryptionResponse  int32 = 0x01
	IDLoginPluginResponse int32 = 0x02
	IDLoginAcknowledged   int32 = 0x03
	IDLoginCookieResponse int32 = 0x04
)

// Clientbound packet ids that do not move between supported versions.
const (
	IDStatusResponse int32 = 0x00
	IDPongResponse   int32 = 0x01

	IDLoginDisconnect    int32 = 0x00
	IDLoginSuccess       int32 = 0x02
	IDLoginCookieRequest int32 = 0x05

	IDConfigCookieRequest int32 = 0x00
	IDConfigStoreCookie   int32 = 0x0A
	IDConfigTransfer      int32 = 0x0B
)

// Marshal encodes p as a frame payload: VarInt id followed by the body.
func Marshal(p Packet, protocol int32) ([]byte, error) {
	w := NewWriter(64)
	w.WriteVarInt(p.ID(protocol))
	if err := p.Encode(w, protocol); err != nil {
		return nil, fmt.Errorf("encode %T: %w", p, err)
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %T: %w", p, err)
	}
	return w.Bytes(), nil
}

// Name returns a short label for logs and metrics.
func Name(p Packet) string {
	return strings.TrimPrefix(strings.TrimPrefix(fmt.Sprintf("%T", p), "*"), "protocol.")
}
