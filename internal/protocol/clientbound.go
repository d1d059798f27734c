package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ServerStatus is the JSON document answered to a status request.
type ServerStatus struct {
	Version            StatusVersion `json:"version"`
	Players            StatusPlayers `json:"players"`
	Description        Text          `json:"description"`
	Favicon            string        `json:"favicon,omitempty"`
	EnforcesSecureChat bool          `json:"enforcesSecureChat"`
}

// StatusVersion is the version block of a status document.
type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// StatusPlayers is the player block of a status document.
type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusSample `json:"sample,omitempty"`
}

// StatusSample is one entry of the player hover list.
type StatusSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// UnmarshalJSON accepts both the object form and a bare string.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Text = s
		return nil
	}
	type plain Text
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Text(p)
	return nil
}

// StatusResponse answers a StatusRequest.
type StatusResponse struct {
	Status ServerStatus
}

func (*StatusResponse) ID(int32) int32 { return IDStatusResponse }

func (p *StatusResponse) Encode(w *Writer, _ int32) error {
	data, err := json.Marshal(p.Status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	w.WriteString(string(data), DefaultStringLen)
	return w.Err()
}

// DecodeStatusResponse is used by the ping client.
func DecodeStatusResponse(r *Reader, _ int32) (Packet, error) {
	s, err := r.ReadString(DefaultStringLen)
	if err != nil {
		return nil, err
	}
	var p StatusResponse
	if err := json.Unmarshal([]byte(s), &p.Status); err != nil {
		return nil, corruptf("status json: %v", err)
	}
	return &p, nil
}

// PongResponse echoes a PingRequest.
type PongResponse struct {
	Payload int64
}

func (*PongResponse) ID(int32) int32 { return IDPongResponse }

func (p *PongResponse) Encode(w *Writer, _ int32) error {
	w.WriteInt64(p.Payload)
	return w.Err()
}

// DecodePongResponse is used by the ping client.
func DecodePongResponse(r *Reader, _ int32) (Packet, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	return &PongResponse{Payload: v}, nil
}

// LoginDisconnect closes a connection during LOGIN. The reason is always JSON.
type LoginDisconnect struct {
	Reason Text
}

func (*LoginDisconnect) ID(int32) int32 { return IDLoginDisconnect }

func (p *LoginDisconnect) Encode(w *Writer, _ int32) error {
	w.WriteString(p.Reason.JSON(), 262144)
	return w.Err()
}

// DecodeLoginDisconnect reads the JSON reason.
func DecodeLoginDisconnect(r *Reader, _ int32) (Packet, error) {
	s, err := r.ReadString(262144)
	if err != nil {
		return nil, err
	}
	var p LoginDisconnect
	if err := json.Unmarshal([]byte(s), &p.Reason); err != nil {
		return nil, corruptf("disconnect json: %v", err)
	}
	return &p, nil
}

// LoginSuccess completes the login sequence. The proxy never sends profile
// properties.
type LoginSuccess struct {
	UUID uuid.UUID
	Name string
}

func (*LoginSuccess) ID(int32) int32 { return IDLoginSuccess }

func (p *LoginSuccess) Encode(w *Writer, protocol int32) error {
	w.WriteUUID(p.UUID).WriteString(p.Name, MaxUsernameLen).WriteVarInt(0)
	if protocol >= ProtocolCookies && protocol < ProtocolNoStrictErrors {
		w.WriteBool(true)
	}
	return w.Err()
}

// DecodeLoginSuccess reads a LoginSuccess without properties.
func DecodeLoginSuccess(r *Reader, protocol int32) (Packet, error) {
	var p LoginSuccess
	var err error
	if p.UUID, err = r.ReadUUID(); err != nil {
		return nil, err
	}
	if p.Name, err = r.ReadString(MaxUsernameLen); err != nil {
		return nil, err
	}
	props, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if props != 0 {
		return nil, corruptf("login success: unexpected %d properties", props)
	}
	if protocol >= ProtocolCookies && protocol < ProtocolNoStrictErrors {
		if _, err := r.ReadBool(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// CookieRequest asks the client for a stored cookie. LOGIN and CONFIG use
// different ids for the same request.
type CookieRequest struct {
	State State
	Key   Identifier
}

func (p *CookieRequest) ID(int32) int32 {
	if p.State == StateConfig {
		return IDConfigCookieRequest
	}
	return IDLoginCookieRequest
}

func (p *CookieRequest) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Key)
	return w.Err()
}

// DecodeCookieRequest reads a request sent in state.
func DecodeCookieRequest(state State) Decoder {
	return func(r *Reader, _ int32) (Packet, error) {
		key, err := r.ReadIdentifier()
		if err != nil {
			return nil, err
		}
		return &CookieRequest{State: state, Key: key}, nil
	}
}

// ConfigDisconnect closes a connection during CONFIG.
type ConfigDisconnect struct {
	Reason Text
}

func (*ConfigDisconnect) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x02
	}
	return 0x01
}

func (p *ConfigDisconnect) Encode(w *Writer, protocol int32) error {
	w.WriteText(p.Reason, protocol)
	return w.Err()
}

// ClientboundPluginMessage sends a custom-channel payload in CONFIG.
type ClientboundPluginMessage struct {
	Channel Identifier
	Data    []byte
}

func (*ClientboundPluginMessage) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x01
	}
	return 0x00
}

func (p *ClientboundPluginMessage) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Channel).WriteRaw(p.Data)
	return w.Err()
}

// ClientboundKeepAlive must be answered with the same payload.
type ClientboundKeepAlive struct {
	Payload int64
}

func (*ClientboundKeepAlive) ID(protocol int32) int32 {
	if protocol >= ProtocolCookies {
		return 0x04
	}
	return 0x03
}

func (p *ClientboundKeepAlive) Encode(w *Writer, _ int32) error {
	w.WriteInt64(p.Payload)
	return w.Err()
}

// DecodeClientboundKeepAlive reads a keep-alive payload.
func DecodeClientboundKeepAlive(r *Reader, _ int32) (Packet, error) {
	v, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	return &ClientboundKeepAlive{Payload: v}, nil
}

// StoreCookie asks the client to keep payload under key.
type StoreCookie struct {
	Key     Identifier
	Payload []byte
}

func (*StoreCookie) ID(int32) int32 { return IDConfigStoreCookie }

func (p *StoreCookie) Encode(w *Writer, _ int32) error {
	w.WriteIdentifier(p.Key).WriteByteArray(p.Payload, MaxCookieSize)
	return w.Err()
}

// DecodeStoreCookie reads a store request.
func DecodeStoreCookie(r *Reader, _ int32) (Packet, error) {
	var p StoreCookie
	var err error
	if p.Key, err = r.ReadIdentifier(); err != nil {
		return nil, err
	}
	if p.Payload, err = r.ReadByteArray(MaxCookieSize); err != nil {
		return nil, err
	}
	return &p, nil
}

// Transfer tells the client to reconnect to another address.
type Transfer struct {
	Host string
	Port int32
}

func (*Transfer) ID(int32) int32 { return IDConfigTransfer }

func (p *Transfer) Encode(w *Writer, _ int32) error {
	w.WriteString(p.Host, DefaultStringLen).WriteVarInt(p.Port)
	return w.Err()
}

// DecodeTransfer reads a transfer target.
func DecodeTransfer(r *Reader, _ int32) (Packet, error) {
	var p Transfer
	var err error
	if p.Host, err = r.ReadString(DefaultStringLen); err != nil {
		return nil, err
	}
	if p.Port, err = r.ReadVarInt(); err != nil {
		return nil, err
	}
	return &p, nil
}
