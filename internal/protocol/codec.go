package protocol

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Field bounds shared by the packet definitions.
const (
	MaxVarIntLen     = 5
	MaxUsernameLen   = 16
	MaxHostnameLen   = 255
	DefaultStringLen = 32767
	MaxCookieSize    = 5120
	MaxPluginDataLen = 1 << 20
)

// Writer builds packet bodies. Write errors are sticky: the first bound
// violation is kept and returned by Err, later writes are ignored.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Err returns the first error recorded by a write.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the encoded bytes. Callers must check Err first.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current size of the body being built.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

func (w *Writer) fail(err error) *Writer {
	if w.err == nil {
		w.err = err
	}
	return w
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(v byte) error {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
	return nil
}

// WriteBool writes 0x01 or 0x00.
func (w *Writer) WriteBool(v bool) *Writer {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	return w
}

// WriteUint16 writes a big-endian unsigned short.
func (w *Writer) WriteUint16(v uint16) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	}
	return w
}

// WriteInt32 writes a big-endian int.
func (w *Writer) WriteInt32(v int32) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	}
	return w
}

// WriteInt64 writes a big-endian long.
func (w *Writer) WriteInt64(v int64) *Writer {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	}
	return w
}

// WriteVarInt writes v in 7-bit groups, least significant first.
func (w *Writer) WriteVarInt(v int32) *Writer {
	if w.err == nil {
		w.buf = AppendVarInt(w.buf, v)
	}
	return w
}

// WriteString writes a VarInt byte length followed by UTF-8 bytes.
// maxChars bounds the string length in UTF-16 units.
func (w *Writer) WriteString(s string, maxChars int) *Writer {
	if w.err != nil {
		return w
	}
	if n := utf16Len(s); n > maxChars {
		return w.fail(tooLargef("string of %d chars exceeds max %d", n, maxChars))
	}
	w.buf = AppendVarInt(w.buf, int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// WriteUUID writes the most then least significant halves, big-endian.
func (w *Writer) WriteUUID(id uuid.UUID) *Writer {
	if w.err == nil {
		w.buf = append(w.buf, id[:]...)
	}
	return w
}

// WriteByteArray writes a VarInt length followed by data, bounded by max.
func (w *Writer) WriteByteArray(data []byte, max int) *Writer {
	if w.err != nil {
		return w
	}
	if len(data) > max {
		return w.fail(tooLargef("byte array of %d bytes exceeds max %d", len(data), max))
	}
	w.buf = AppendVarInt(w.buf, int32(len(data)))
	w.buf = append(w.buf, data...)
	return w
}

// WriteRaw appends data without a length prefix.
func (w *Writer) WriteRaw(data []byte) *Writer {
	if w.err == nil {
		w.buf = append(w.buf, data...)
	}
	return w
}

// WriteIdentifier writes a namespaced key as a string.
func (w *Writer) WriteIdentifier(id Identifier) *Writer {
	return w.WriteString(id.String(), DefaultStringLen)
}

// AppendVarInt appends the VarInt encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// VarIntSize returns the encoded size of v in bytes.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// Reader consumes a packet body.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps a body.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, corruptf("%s: need %d bytes, have %d", field, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a boolean; any value other than 0 or 1 is corrupt.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, corruptf("invalid boolean 0x%02x", b)
	}
}

// ReadUint16 reads a big-endian unsigned short.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2, "ushort")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadInt32 reads a big-endian int.
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4, "int")
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// ReadInt64 reads a big-endian long.
func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8, "long")
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadVarInt reads a VarInt of at most five bytes.
func (r *Reader) ReadVarInt() (int32, error) {
	v, n, err := DecodeVarInt(r.buf[r.off:], MaxVarIntLen)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, corruptf("varint: truncated")
	}
	r.off += n
	return v, nil
}

// ReadString reads a VarInt-prefixed UTF-8 string of at most maxChars UTF-16 units.
// The declared byte length is checked against the UTF-8 worst case first.
func (r *Reader) ReadString(maxChars int) (string, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", corruptf("string: negative length %d", n)
	}
	if int(n) > maxChars*3 {
		return "", tooLargef("string: %d bytes exceeds max %d", n, maxChars*3)
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", corruptf("string: invalid utf-8")
	}
	s := string(b)
	if chars := utf16Len(s); chars > maxChars {
		return "", tooLargef("string: %d chars exceeds max %d", chars, maxChars)
	}
	return s, nil
}

// ReadUUID reads two big-endian longs.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	b, err := r.take(16, "uuid")
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ReadByteArray reads a VarInt-prefixed byte array bounded by max.
func (r *Reader) ReadByteArray(max int) ([]byte, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, corruptf("byte array: negative length %d", n)
	}
	if int(n) > max {
		return nil, tooLargef("byte array: %d bytes exceeds max %d", n, max)
	}
	b, err := r.take(int(n), "byte array")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadRest returns every remaining byte, bounded by max.
func (r *Reader) ReadRest(max int) ([]byte, error) {
	if r.Remaining() > max {
		return nil, tooLargef("trailing data: %d bytes exceeds max %d", r.Remaining(), max)
	}
	out := make([]byte, r.Remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out, nil
}

// ReadIdentifier reads and validates a namespaced key.
func (r *Reader) ReadIdentifier() (Identifier, error) {
	s, err := r.ReadString(DefaultStringLen)
	if err != nil {
		return Identifier{}, err
	}
	id, err := ParseIdentifier(s)
	if err != nil {
		return Identifier{}, corruptf("%v", err)
	}
	return id, nil
}

// DecodeVarInt decodes a VarInt from the front of buf, reading at most maxLen bytes.
// It returns n == 0 with a nil error when buf ends before the VarInt does.
func DecodeVarInt(buf []byte, maxLen int) (v int32, n int, err error) {
	var u uint32
	for i := 0; i < maxLen; i++ {
		if i >= len(buf) {
			return 0, 0, nil
		}
		b := buf[i]
		u |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	return 0, 0, corruptf("varint longer than %d bytes", maxLen)
}

// utf16Len counts s in UTF-16 code units, the unit the protocol bounds strings by.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
