package dataset

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// ErrCorruptRecord is returned when a record checksum does not match.
var ErrCorruptRecord = errors.New("tfrecord: corrupt record")

const maskDelta = 0xa282ead8

// MaxRecordSize bounds the payload length accepted from a record header.
const MaxRecordSize = 256 << 20

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// RecordReader reads length-delimited TFRecord payloads.
type RecordReader struct {
	r   *bufio.Reader
	hdr [12]byte
	buf []byte
}

// NewRecordReader wraps r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next returns the next payload. The slice is only valid until the next call.
// It returns io.EOF after the last record.
func (rr *RecordReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(rr.r, rr.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "tfrecord: read header")
	}
	length := binary.LittleEndian.Uint64(rr.hdr[:8])
	if binary.LittleEndian.Uint32(rr.hdr[8:]) != maskedCRC(rr.hdr[:8]) {
		return nil, errors.Wrap(ErrCorruptRecord, "length checksum")
	}
	if length > MaxRecordSize {
		return nil, errors.Wrapf(ErrCorruptRecord, "record length %d exceeds %d", length, MaxRecordSize)
	}
	if uint64(cap(rr.buf)) < length {
		rr.buf = make([]byte, length)
	}
	rr.buf = rr.buf[:length]
	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return nil, errors.Wrap(err, "tfrecord: read payload")
	}
	var footer [4]byte
	if _, err := io.ReadFull(rr.r, footer[:]); err != nil {
		return nil, errors.Wrap(err, "tfrecord: read footer")
	}
	if binary.LittleEndian.Uint32(footer[:]) != maskedCRC(rr.buf) {
		return nil, errors.Wrap(ErrCorruptRecord, "payload checksum")
	}
	return rr.buf, nil
}

// RecordWriter writes length-delimited TFRecord payloads.
type RecordWriter struct {
	w *bufio.Writer
}

// NewRecordWriter wraps w. Call Flush when done.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: bufio.NewWriter(w)}
}

// Write appends one record.
func (rw *RecordWriter) Write(payload []byte) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))
	for _, chunk := range [][]byte{hdr[:], payload, footer[:]} {
		if _, err := rw.w.Write(chunk); err != nil {
			return errors.Wrap(err, "tfrecord: write")
		}
	}
	return nil
}

// Flush flushes buffered records to the underlying writer.
func (rw *RecordWriter) Flush() error {
	return rw.w.Flush()
}
