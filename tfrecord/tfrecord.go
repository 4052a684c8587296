// Package tfrecord reads and writes sharded TFRecord files holding
// tf.train.Example records, and decodes those records into named tensors
// against an explicitly probed schema.
//
// The wire format is parsed directly with protowire rather than generated
// protobuf bindings: the pipeline only touches four tiny message shapes
// (Example, Features, Feature/BytesList, TensorProto) and parsing them by
// field number keeps the module free of a codegen step.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// TFRecord framing: every record is
//
//	uint64 length (little-endian)
//	uint32 masked crc32c of the length bytes
//	byte   data[length]
//	uint32 masked crc32c of the data
const crcMaskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// maxRecordBytes guards against reading a garbage length field as a huge
// allocation. 1GiB is far beyond any sane serialized trajectory.
const maxRecordBytes = 1 << 30

// Reader reads length-delimited records from a single TFRecord stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for record-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next raw record payload. It returns io.EOF cleanly at the
// end of the stream and a *DecodeError for torn or corrupt records.
func (r *Reader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:8]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &DecodeError{Err: errors.Wrap(err, "read record length")}
	}
	if _, err := io.ReadFull(r.r, header[8:]); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "read length crc")}
	}
	length := binary.LittleEndian.Uint64(header[:8])
	if want, got := maskedCRC(header[:8]), binary.LittleEndian.Uint32(header[8:]); want != got {
		return nil, &DecodeError{Err: errors.Errorf("length crc mismatch: %08x != %08x", got, want)}
	}
	if length > maxRecordBytes {
		return nil, &DecodeError{Err: errors.Errorf("record of %d bytes exceeds limit", length)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "read record data")}
	}
	var footer [4]byte
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		return nil, &DecodeError{Err: errors.Wrap(err, "read data crc")}
	}
	if want, got := maskedCRC(data), binary.LittleEndian.Uint32(footer[:]); want != got {
		return nil, &DecodeError{Err: errors.Errorf("data crc mismatch: %08x != %08x", got, want)}
	}
	return data, nil
}

// Writer writes length-delimited records to a TFRecord stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for record-at-a-time writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord frames and writes one raw record payload.
func (w *Writer) WriteRecord(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	if _, err := w.w.Write(header[:]); err != nil {
		return errors.Wrap(err, "write record header")
	}
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, "write record data")
	}
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))
	if _, err := w.w.Write(footer[:]); err != nil {
		return errors.Wrap(err, "write record footer")
	}
	return nil
}
