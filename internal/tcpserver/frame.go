package tcpserver

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/solatis/aadnode/internal/types"
)

// Frame layout: magic, payload length, payload. Both header words are
// little-endian u32.
const (
	Magic      uint32 = 0xDEADBEAF
	HeaderSize        = 8
	MaxPayload        = types.MaxFrameSize - HeaderSize
)

var magicBytes = binary.LittleEndian.AppendUint32(nil, Magic)

// EncodeFrame wraps payload in a frame header.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = binary.LittleEndian.AppendUint32(out, Magic)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

// Decoder reassembles frames from a byte stream. Reads may split a frame or
// carry several; bytes before a magic word are skipped, and a header that
// declares more than MaxPayload bytes is dropped so the scan resumes after it.
type Decoder struct {
	buf     []byte
	dropped int
}

// Feed appends received bytes.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Dropped returns how many bytes were discarded while resynchronising.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards buffered bytes, for a new connection.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Next returns the next complete payload, or false when more bytes are needed.
func (d *Decoder) Next() ([]byte, bool) {
	for {
		i := bytes.Index(d.buf, magicBytes)
		if i < 0 {
			// Keep a possible partial magic at the tail.
			keep := min(len(d.buf), len(magicBytes)-1)
			d.discard(len(d.buf) - keep)
			return nil, false
		}
		d.discard(i)

		if len(d.buf) < HeaderSize {
			return nil, false
		}
		n := binary.LittleEndian.Uint32(d.buf[4:HeaderSize])
		if n > MaxPayload {
			d.discard(len(magicBytes))
			continue
		}
		end := HeaderSize + int(n)
		if len(d.buf) < end {
			return nil, false
		}
		payload := bytes.Clone(d.buf[HeaderSize:end])
		d.buf = append(d.buf[:0], d.buf[end:]...)
		return payload, true
	}
}

func (d *Decoder) discard(n int) {
	if n <= 0 {
		return
	}
	d.dropped += n
	d.buf = append(d.buf[:0], d.buf[n:]...)
}
