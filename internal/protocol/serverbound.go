package protocol

import (
	"github.com/google/uuid"
)

// Handshake is the first packet on every connection.
type Handshake struct {
	Protocol  int32
	Host      string
	Port      uint16
	NextState State
}

func (*Handshake) ID(int32) int32 { return IDHandshake }

func (p *Handshake) Encode(w *Writer, _ int32) error {
	w.WriteVarInt(p.Protocol).
		WriteString(p.Host, MaxHostnameLen).
		WriteUint16(p.Port).
		WriteVarInt(int32(p.NextState))
	return w.Err()
}

func decodeHandshake(r *Reader, _ int32) (Packet, error) {
	var p Handshake
	var err error
	if p.Protocol, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	if p.Host, err = r.ReadString(MaxHostnameLen); err != nil {
		return nil, err
	}
	if p.Port, err = r.ReadUint16(); err != nil {
		return nil, err
	}
	next, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	switch State(next) {
	case StateStatus, StateLogin, StateTransfer:
		p.NextState = State(next)
	default:
		return nil, corruptf("handshake: invalid next state %d", next)
	}
	return &p, nil
}

// StatusRequest asks for the server list entry.
type StatusRequest struct{}

func (*StatusRequest) ID(int32) int32 { return IDStatusRequest }
func (*StatusRequest) Encode(*Writer, int32) error { return nil }

func decodeStatusRequest(*Reader, int32) (Packet, error) {
	return &StatusRequest{}, nil
}

// PingRequest carries an opaque value the server echoes back.
type PingRequest struct {
	Payload int64
}

func (*PingRequest) ID(int32) int32 { return IDPingRequest }

func (p *PingRequest) Encode(w *Writer, _ int32) error {
	w.WriteInt64(p.Payload)
	return w.Err()
}

func decodePingRequest(r *Reader, _ int32) (Packet, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	return &PingRequest{Payload: v}, nil
}

// LoginStart opens the login sequence.
type LoginStart struct {
	Name string
	UUID uuid.UUID
}

func (*LoginStart) ID(int32) int32 { return IDLoginStart }

func (p *LoginStart) Encode(w *Writer, _ int32) error {
	w.WriteString(p.Name, MaxUsernameLen).WriteUUID(p.UUID)
	return w.Err()
}

func decodeLoginStart(r *Reader, _ int32) (Packet, error) {
	var p LoginStart
	var err error
	if p.Name, err = r.ReadString(MaxUsernameLen); err != nil {
		return nil, err
	}
	if p.UUID, err = r.ReadUUID(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoginPluginResponse answers a login plugin request. The proxy never sends
// such requests, so responses are decoded and dropped.
type LoginPluginResponse struct {
	MessageID  int32
	Successful bool
	Data       []byte
}

func (*LoginPluginResponse) ID(int32) int32 { return IDLoginPluginResponse }

func (p *LoginPluginResponse) Encode(w *Writer, _ int32) error {
	w.WriteVarInt(p.MessageID).WriteBool(p.Successful)
	if p.Successful {
		w.WriteRaw(p.Data)
	}
	return w.Err()
}

func decodeLoginPluginResponse(r *Reader, _ int32) (Packet, error) {
	var p LoginPluginResponse
	var err error
	if p.MessageID, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	if p.Successful, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if p.Successful {
		if p.Data, err = r.ReadRest(MaxPluginDataLen); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// LoginAcknowledged moves the connection into CONFIG.
type LoginAcknowledged struct{}

func (*LoginAcknowledged) ID(int32) int32 { return IDLoginAcknowledged }
func (*LoginAcknowledged) Encode(*Writer, int32) error { return nil }

func decodeLoginAcknowledged(*Reader, int32) (Packet, error) {
	return &LoginAcknowledged{}, nil
}

// CookieResponse returns a cookie the client was asked for. A nil Payload
// with Present false means the client holds no such cookie.
type CookieResponse struct {
	State   State
	Key     Identifier
	Present bool
	Payload []byte
}

func (p *CookieResponse) ID(int32) int32 {
	if p.State == StateConfig {
		return 0x01
	}
	return IDLoginCookieResponse
}

func (p *CookieResponse) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Key).WriteBool(p.Present)
	if p.Present {
		w.WriteByteArray(p.Payload, MaxCookieSize)
	}
	return w.Err()
}

func decodeCookieResponse(state State) Decoder {
	return func(r *Reader, _ int32) (Packet, error) {
		p := CookieResponse{State: state}
		var err error
		if p.Key, err = r.ReadIdentifier(); err != nil {
			return nil, err
		}
		if p.Present, err = r.ReadBool(); err != nil {
			return nil, err
		}
		if p.Present {
			if p.Payload, err = r.ReadByteArray(MaxCookieSize); err != nil {
				return nil, err
			}
		}
		return &p, nil
	}
}

// ClientInformation carries client settings; sent once on entering CONFIG.
type ClientInformation struct {
	Locale              string
	ViewDistance        byte
	ChatMode            int32
	ChatColors          bool
	SkinParts           byte
	MainHand            int32
	TextFiltering       bool
	AllowServerListings bool
	ParticleStatus      int32
}

func (*ClientInformation) ID(protocol int32) int32 { return 0x00 }

func (p *ClientInformation) Encode(w *Writer, protocol int32) error {
	w.WriteString(p.Locale, 16)
	w.WriteByte(p.ViewDistance)
	w.WriteVarInt(p.ChatMode).WriteBool(p.ChatColors)
	w.WriteByte(p.SkinParts)
	w.WriteVarInt(p.MainHand).WriteBool(p.TextFiltering).WriteBool(p.AllowServerListings)
	if protocol >= Protocol1_21_2 {
		w.WriteVarInt(p.ParticleStatus)
	}
	return w.Err()
}

func decodeClientInformation(r *Reader, protocol int32) (Packet, error) {
	var p ClientInformation
	var err error
	if p.Locale, err = r.ReadString(16); err != nil {
		return nil, err
	}
	if p.ViewDistance, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.ChatMode, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	if p.ChatColors, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if p.SkinParts, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.MainHand, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	if p.TextFiltering, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if p.AllowServerListings, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if protocol >= Protocol1_21_2 {
		if p.ParticleStatus, err = r.ReadVarInt(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// PluginMessage is a custom-channel payload sent by the client in CONFIG.
type PluginMessage struct {
	Channel Identifier
	Data    []byte
}

func (*PluginMessage) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x02
	}
	return 0x01
}

func (p *PluginMessage) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Channel).WriteRaw(p.Data)
	return w.Err()
}

func decodePluginMessage(r *Reader, _ int32) (Packet, error) {
	var p PluginMessage
	var err error
	if p.Channel, err = r.ReadIdentifier(); err != nil {
		return nil, err
	}
	if p.Data, err = r.ReadRest(DefaultStringLen); err != nil {
		return nil, err
	}
	return &p, nil
}

// AcknowledgeFinishConfiguration ends CONFIG on the client side.
type AcknowledgeFinishConfiguration struct{}

func (*AcknowledgeFinishConfiguration) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x03
	}
	return 0x02
}

func (*AcknowledgeFinishConfiguration) Encode(*Writer, int32) error { return nil }

func decodeAcknowledgeFinishConfiguration(*Reader, int32) (Packet, error) {
	return &AcknowledgeFinishConfiguration{}, nil
}

// ServerboundKeepAlive answers a clientbound keep-alive.
type ServerboundKeepAlive struct {
	Payload int64
}

func (*ServerboundKeepAlive) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x04
	}
	return 0x03
}

func (p *ServerboundKeepAlive) Encode(w *Writer, _ int32) error {
	w.WriteInt64(p.Payload)
	return w.Err()
}

func decodeServerboundKeepAlive(r *Reader, _ int32) (Packet, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	return &ServerboundKeepAlive{Payload: v}, nil
}

// Pong answers a clientbound ping.
type Pong struct {
	Payload int32
}

func (*Pong) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x05
	}
	return 0x04
}

func (p *Pong) Encode(w *Writer, _ int32) error {
	w.WriteInt32(p.Payload)
	return w.Err()
}

func decodePong(r *Reader, _ int32) (Packet, error) {
	v, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	return &Pong{Payload: v}, nil
}

// ResourcePackResponse reports resource pack progress.
type ResourcePackResponse struct {
	Pack   uuid.UUID
	Result int32
}

func (*ResourcePackResponse) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x06
	}
	return 0x05
}

func (p *ResourcePackResponse) Encode(w *Writer, protocol int32) error {
	if protocol >= ProtocolNBTText {
		w.WriteUUID(p.Pack)
	}
	w.WriteVarInt(p.Result)
	return w.Err()
}

func decodeResourcePackResponse(r *Reader, protocol int32) (Packet, error) {
	var p ResourcePackResponse
	var err error
	if protocol >= ProtocolNBTText {
		if p.Pack, err = r.ReadUUID(); err != nil {
			return nil, err
		}
	}
	if p.Result, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	return &p, nil
}

// KnownPack names a data pack the client already has.
type KnownPack struct {
	Namespace string
	ID        string
	Version   string
}

// KnownPacks lists the data packs the client knows.
type KnownPacks struct {
	Packs []KnownPack
}

const maxKnownPacks = 64

func (*KnownPacks) ID(int32) int32 { return 0x07 }

func (p *KnownPacks) Encode(w *Writer, _ int32) error {
	w.WriteVarInt(int32(len(p.Packs)))
	for _, pack := range p.Packs {
		w.WriteString(pack.Namespace, DefaultStringLen).
			WriteString(pack.ID, DefaultStringLen).
			WriteString(pack.Version, DefaultStringLen)
	}
	return w.Err()
}

func decodeKnownPacks(r *Reader, _ int32) (Packet, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxKnownPacks {
		return nil, tooLargef("known packs: count %d outside [0, %d]", n, maxKnownPacks)
	}
	p := KnownPacks{Packs: make([]KnownPack, 0, n)}
	for i := int32(0); i < n; i++ {
		var pack KnownPack
		if pack.Namespace, err = r.ReadString(DefaultStringLen); err != nil {
			return nil, err
		}
		if pack.ID, err = r.ReadString(DefaultStringLen); err != nil {
			return nil, err
		}
		if pack.Version, err = r.ReadString(DefaultStringLen); err != nil {
			return nil, err
		}
		p.Packs = append(p.Packs, pack)
	}
	return &p, nil
}

// CustomClickAction is sent when a player clicks a custom dialog action.
type CustomClickAction struct {
	Action  Identifier
	Payload []byte
}

func (*CustomClickAction) ID(int32) int32 { return 0x08 }

func (p *CustomClickAction) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Action).WriteRaw(p.Payload)
	return w.Err()
}

func decodeCustomClickAction(r *Reader, _ int32) (Packet, error) {
	var p CustomClickAction
	var err error
	if p.Action, err = r.ReadIdentifier(); err != nil {
		return nil, err
	}
	if p.Payload, err = r.ReadRest(65536); err != nil {
		return nil, err
	}
	return &p, nil
}
