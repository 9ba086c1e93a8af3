package zigbee

import (
	"encoding/binary"
	"fmt"
)

// Writer is a fresh, per-frame byte serializer (spec §4.2). ZigBee wire
// values are little-endian, matching the teacher's EZSP framing
// (urmzd-homai pkg/zigbee/ezsp.go uses binary.LittleEndian throughout).
type Writer struct {
	buf []byte
}

// NewWriter constructs a fresh Writer. A new Writer is built per frame; no
// state is shared across frames (spec §4.2).
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 32)}
}

func (w *Writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) PutUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) PutUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// PutIEEEAddress writes a 64-bit IEEE address in wire (little-endian) order.
func (w *Writer) PutIEEEAddress(a IEEEAddress) { w.PutUint64(uint64(a)) }

// PutBytes appends an opaque byte string without a length prefix.
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutString writes a 1-byte length prefix followed by the string bytes,
// matching ZCL's length-prefixed octet/character string encoding.
func (w *Writer) PutString(s string) {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	w.PutUint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

// Bytes returns the accumulated frame payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader is a fresh, per-frame byte deserializer over a fixed input buffer
// (spec §4.2). Reads past the end of the buffer return ErrCodec instead of
// panicking, so a malformed inbound frame is dropped rather than crashing
// the inbound worker (spec §4.4 edge policies).
type Reader struct {
	buf []byte
	pos int
}

// NewReader constructs a fresh Reader over payload. A new Reader is built
// per frame.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrCodec, n, r.Remaining())
	}
	return nil
}

func (r *Reader) GetUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetIEEEAddress() (IEEEAddress, error) {
	v, err := r.GetUint64()
	return IEEEAddress(v), err
}

// GetBytes reads n opaque bytes.
func (r *Reader) GetBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// GetRest returns all remaining unread bytes.
func (r *Reader) GetRest() []byte {
	v := r.buf[r.pos:]
	r.pos = len(r.buf)
	return v
}

// GetString reads a 1-byte length prefix followed by that many bytes.
func (r *Reader) GetString() (string, error) {
	n, err := r.GetUint8()
	if err != nil {
		return "", err
	}
	b, err := r.GetBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeZCLHeader writes a ZCL frame-control octet and sequence/command-id
// fields (spec §6).
func EncodeZCLHeader(w *Writer, h ZCLHeader) {
	fc := uint8(h.FrameType) & 0x03
	if h.Direction == DirectionServerToClient {
		fc |= 1 << 3
	}
	if h.ManufacturerSpecific {
		fc |= 1 << 2
	}
	if h.DisableDefaultResp {
		fc |= 1 << 4
	}
	w.PutUint8(fc)
	if h.ManufacturerSpecific {
		w.PutUint16(h.ManufacturerCode)
	}
	w.PutUint8(h.SequenceNumber)
	w.PutUint8(h.CommandID)
}

// DecodeZCLHeader parses the ZCL header at the front of an APS payload
// (spec §6).
func DecodeZCLHeader(r *Reader) (ZCLHeader, error) {
	fc, err := r.GetUint8()
	if err != nil {
		return ZCLHeader{}, fmt.Errorf("%w: zcl frame control: %v", ErrCodec, err)
	}
	h := ZCLHeader{
		FrameType:            FrameType(fc & 0x03),
		Direction:            DirectionClientToServer,
		ManufacturerSpecific: fc&(1<<2) != 0,
		DisableDefaultResp:   fc&(1<<4) != 0,
	}
	if fc&(1<<3) != 0 {
		h.Direction = DirectionServerToClient
	}
	if h.ManufacturerSpecific {
		code, err := r.GetUint16()
		if err != nil {
			return ZCLHeader{}, fmt.Errorf("%w: zcl manufacturer code: %v", ErrCodec, err)
		}
		h.ManufacturerCode = code
	}
	seq, err := r.GetUint8()
	if err != nil {
		return ZCLHeader{}, fmt.Errorf("%w: zcl sequence number: %v", ErrCodec, err)
	}
	cmdID, err := r.GetUint8()
	if err != nil {
		return ZCLHeader{}, fmt.Errorf("%w: zcl command id: %v", ErrCodec, err)
	}
	h.SequenceNumber = seq
	h.CommandID = cmdID
	return h, nil
}
