package dataset

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordReaderRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewRecordWriter(buf)
	require.NoError(t, w.Write([]byte("first")))
	require.NoError(t, w.Write(nil))
	require.NoError(t, w.Write([]byte("third record")))
	require.NoError(t, w.Flush())

	r := NewRecordReader(bytes.NewReader(buf.Bytes()))
	var got []string
	for {
		payload, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(payload))
	}
	require.Equal(t, []string{"first", "", "third record"}, got)
}

func TestRecordReaderLengthChecksum(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewRecordWriter(buf)
	require.NoError(t, w.Write([]byte("payload")))
	require.NoError(t, w.Flush())

	data := buf.Bytes()
	data[9] ^= 0x01
	_, err := NewRecordReader(bytes.NewReader(data)).Next()
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRecordReaderTruncated(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewRecordWriter(buf)
	require.NoError(t, w.Write([]byte("payload")))
	require.NoError(t, w.Flush())

	_, err := NewRecordReader(bytes.NewReader(buf.Bytes()[:15])).Next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestExampleRoundTrip(t *testing.T) {
	ex := Example{
		KeyImageEncoded: {Bytes: [][]byte{[]byte{0xff, 0xd8, 0x00}}},
		KeyImageFormat:  {Bytes: [][]byte{[]byte("jpeg")}},
		KeyClassLabel:   {Int64: []int64{-1, 300}},
		"image/score":   {Float: []float32{0.25, 1.5}},
	}
	got, err := DecodeExample(ex.Encode())
	require.NoError(t, err)
	require.Equal(t, ex, got)
}

func TestExampleToRecord(t *testing.T) {
	rec, err := ImageExample([]byte("png-bytes"), "png", 4, 5, 3).ToRecord("k")
	require.NoError(t, err)
	require.Equal(t, Record{Key: "k", Image: []byte("png-bytes"), Format: "png", Label: 3}, rec)

	_, err = Example{KeyImageEncoded: {Bytes: [][]byte{[]byte("x")}}}.ToRecord("k")
	require.Error(t, err)
}

func TestDecodeExampleRejectsGarbage(t *testing.T) {
	_, err := DecodeExample([]byte{0x0a, 0x05, 0x01})
	require.Error(t, err)
}

func TestRecordReaderRejectsOversizedLength(t *testing.T) {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], 1<<62)
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))

	_, err := NewRecordReader(bytes.NewReader(hdr[:])).Next()
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRecordReaderTruncatedPayload(t *testing.T) {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], 1024)
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	data := append(hdr[:], []byte("short")...)

	_, err := NewRecordReader(bytes.NewReader(data)).Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
