package protocol

import (
	"encoding/binary"
	"encoding/json"
)

// NBT tag ids used by text components.
const (
	tagEnd      byte = 0x00
	tagString   byte = 0x08
	tagCompound byte = 0x0A
)

// Text is a minimal chat component: plain text with an optional colour.
type Text struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// PlainText builds an uncoloured component.
func PlainText(s string) Text {
	return Text{Text: s}
}

// JSON renders the component as the JSON form used before NBT components.
func (t Text) JSON() string {
	data, _ := json.Marshal(t)
	return string(data)
}

// MaxNBTStringLen is the largest modified UTF-8 payload an NBT string can
// declare in its u16 length.
const MaxNBTStringLen = 0xFFFF

// AppendNBT appends the component as a nameless network NBT compound.
func (t Text) AppendNBT(dst []byte) ([]byte, error) {
	dst = append(dst, tagCompound)
	dst, err := appendNBTStringEntry(dst, "text", t.Text)
	if err != nil {
		return dst, err
	}
	if t.Color != "" {
		if dst, err = appendNBTStringEntry(dst, "color", t.Color); err != nil {
			return dst, err
		}
	}
	return append(dst, tagEnd), nil
}

func appendNBTStringEntry(dst []byte, name, value string) ([]byte, error) {
	dst = append(dst, tagString)
	dst, err := appendModifiedUTF8(dst, name)
	if err != nil {
		return dst, err
	}
	return appendModifiedUTF8(dst, value)
}

// appendModifiedUTF8 writes a u16 length and Java's modified UTF-8: NUL is
// two bytes and supplementary characters are CESU-8 surrogate pairs.
func appendModifiedUTF8(dst []byte, s string) ([]byte, error) {
	lenAt := len(dst)
	dst = append(dst, 0, 0)
	for _, r := range s {
		switch {
		case r == 0:
			dst = append(dst, 0xC0, 0x80)
		case r < 0x80:
			dst = append(dst, byte(r))
		case r < 0x800:
			dst = append(dst, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			dst = appendUTF8Unit(dst, uint16(r))
		default:
			r -= 0x10000
			dst = appendUTF8Unit(dst, uint16(0xD800+(r>>10)))
			dst = appendUTF8Unit(dst, uint16(0xDC00+(r&0x3FF)))
		}
	}
	n := len(dst) - lenAt - 2
	if n > MaxNBTStringLen {
		return dst[:lenAt], tooLargef("nbt string of %d bytes exceeds max %d", n, MaxNBTStringLen)
	}
	binary.BigEndian.PutUint16(dst[lenAt:], uint16(n))
	return dst, nil
}

func appendUTF8Unit(dst []byte, u uint16) []byte {
	return append(dst, 0xE0|byte(u>>12), 0x80|byte((u>>6)&0x3F), 0x80|byte(u&0x3F))
}

// WriteText writes a component in the layout the protocol version expects.
func (w *Writer) WriteText(t Text, protocol int32) *Writer {
	if w.err != nil {
		return w
	}
	if protocol >= ProtocolNBTText {
		buf, err := t.AppendNBT(w.buf)
		if err != nil {
			return w.fail(err)
		}
		w.buf = buf
		return w
	}
	return w.WriteString(t.JSON(), 262144)
}
