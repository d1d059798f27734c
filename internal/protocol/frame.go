package protocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameLenBytes caps the outer length prefix at three bytes.
	MaxFrameLenBytes = 3
	// MaxFrameSize is the largest payload a three-byte prefix can declare.
	MaxFrameSize = 1<<21 - 1
)

// FrameDecoder splits a byte stream into length-prefixed payloads.
// Nothing is consumed until a whole frame is buffered.
type FrameDecoder struct {
	buf []byte
}

// Feed appends bytes read from the socket.
func (d *FrameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete payload. ok is false when more input is
// needed; the buffer is left untouched in that case. A declared length of
// zero is consumed and reported as no frame.
func (d *FrameDecoder) Next() (payload []byte, ok bool, err error) {
	for {
		length, n, err := decodeFrameLen(d.buf)
		if err != nil {
			return nil, false, err
		}
		if n == 0 || len(d.buf)-n < int(length) {
			d.compact()
			return nil, false, nil
		}
		if length == 0 {
			d.buf = d.buf[n:]
			continue
		}
		end := n + int(length)
		payload = make([]byte, length)
		copy(payload, d.buf[n:end])
		d.buf = d.buf[end:]
		return payload, true, nil
	}
}

// compact moves unread bytes to the front so the buffer does not grow forever.
func (d *FrameDecoder) compact() {
	if cap(d.buf) > 4096 && len(d.buf) < cap(d.buf)/4 {
		d.buf = append([]byte(nil), d.buf...)
	}
}

// decodeFrameLen reads the three-byte length prefix. n is zero when the
// prefix is not fully buffered yet.
func decodeFrameLen(buf []byte) (length int32, n int, err error) {
	var u uint32
	for i := 0; i < MaxFrameLenBytes; i++ {
		if i >= len(buf) {
			return 0, 0, nil
		}
		b := buf[i]
		u |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	return 0, 0, corruptf("frame length longer than %d bytes", MaxFrameLenBytes)
}

// AppendFrame appends VarInt(len(payload)) and payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return dst, tooLargef("frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	dst = AppendVarInt(dst, int32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes one framed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := AppendFrame(make([]byte, 0, len(payload)+MaxFrameLenBytes), payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame blocks until one frame has been read from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var u uint32
	var one [1]byte
	for i := 0; ; i++ {
		if i == MaxFrameLenBytes {
			return nil, corruptf("frame length longer than %d bytes", MaxFrameLenBytes)
		}
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return nil, fmt.Errorf("failed to read frame length: %w", err)
		}
		u |= uint32(one[0]&0x7F) << (7 * i)
		if one[0]&0x80 == 0 {
			break
		}
	}
	payload := make([]byte, u)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame payload (%d bytes): %w", u, err)
	}
	return payload, nil
}

// SplitPacket separates the packet id from the body of a frame payload.
func SplitPacket(payload []byte) (id int32, body *Reader, err error) {
	r := NewReader(payload)
	id, err = r.ReadVarInt()
	if err != nil {
		return 0, nil, fmt.Errorf("packet id: %w", err)
	}
	return id, r, nil
}
