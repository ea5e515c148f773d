package validation

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortRead = errors.New("frame truncated")

// DataStream reads or builds little-endian frames. Reads past the end set a
// sticky error and return zero values, so a decoder can read a whole record
// and check Err once.
type DataStream struct {
	buf []byte
	off int
	err error
}

func NewDataStream(data []byte) *DataStream {
	return &DataStream{buf: data}
}

func NewDataStreamWriter() *DataStream {
	return &DataStream{buf: make([]byte, 0, 64)}
}

func (ds *DataStream) take(n int) []byte {
	if ds.err != nil {
		return nil
	}
	if n < 0 || ds.Len() < n {
		ds.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, ds.off, ds.Len())
		return nil
	}
	b := ds.buf[ds.off : ds.off+n]
	ds.off += n
	return b
}

func (ds *DataStream) ReadUint8() uint8 {
	if b := ds.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (ds *DataStream) ReadUint16() uint16 {
	if b := ds.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (ds *DataStream) ReadUint32() uint32 {
	if b := ds.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (ds *DataStream) ReadUint64() uint64 {
	if b := ds.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (ds *DataStream) ReadBytes(n int) []byte {
	if b := ds.take(n); b != nil {
		return append([]byte(nil), b...)
	}
	return nil
}

// ReadCell reads an (x, y) pair and checks it against the world bounds.
func (ds *DataStream) ReadCell(width, height int) (int, int) {
	x, y := int(ds.ReadUint16()), int(ds.ReadUint16())
	if ds.err == nil && !IsValidCoordinate(x, y, width, height) {
		ds.err = fmt.Errorf("cell (%d,%d) outside %dx%d world", x, y, width, height)
	}
	return x, y
}

// ReadShortBytes reads a length-prefixed byte string of at most 255 bytes.
func (ds *DataStream) ReadShortBytes() []byte {
	return ds.ReadBytes(int(ds.ReadUint8()))
}

func (ds *DataStream) WriteUint8(val uint8) {
	ds.buf = append(ds.buf, val)
}

func (ds *DataStream) WriteUint16(val uint16) {
	ds.buf = binary.LittleEndian.AppendUint16(ds.buf, val)
}

func (ds *DataStream) WriteUint32(val uint32) {
	ds.buf = binary.LittleEndian.AppendUint32(ds.buf, val)
}

func (ds *DataStream) WriteUint64(val uint64) {
	ds.buf = binary.LittleEndian.AppendUint64(ds.buf, val)
}

func (ds *DataStream) WriteBytes(data []byte) {
	ds.buf = append(ds.buf, data...)
}

func (ds *DataStream) WriteCell(x, y int) {
	ds.WriteUint16(uint16(x))
	ds.WriteUint16(uint16(y))
}

// WriteShortBytes writes a length prefix and data, cut to 255 bytes.
func (ds *DataStream) WriteShortBytes(data []byte) {
	if len(data) > 255 {
		data = data[:255]
	}
	ds.WriteUint8(uint8(len(data)))
	ds.WriteBytes(data)
}

func (ds *DataStream) Bytes() []byte {
	return ds.buf[ds.off:]
}

// Len is the number of unread bytes.
func (ds *DataStream) Len() int {
	return len(ds.buf) - ds.off
}

func (ds *DataStream) CanRead(n int) bool {
	return ds.err == nil && ds.Len() >= n
}

func (ds *DataStream) Err() error {
	return ds.err
}

func ReadPacketID(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, errors.New("data too short for packet ID")
	}
	return data[0], nil
}

func ValidatePacketSize(data []byte, expectedSize int) error {
	if len(data) < expectedSize {
		return fmt.Errorf("%w: %d bytes, want at least %d", ErrShortRead, len(data), expectedSize)
	}
	return nil
}
