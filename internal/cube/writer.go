package cube

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// DefaultChunk is the default write granularity along axis 0.
const DefaultChunk = 16

// Writer produces a cube file. All fields are declared up front so payload
// offsets are known before any data is written; records may then be written
// in any order via WriteRecords.
type Writer struct {
	f       *os.File
	fields  map[string]FieldSpec
	dataOff int64
}

// NewWriter creates a cube file with the given fields. Field offsets are
// assigned in declaration order.
func NewWriter(path string, specs []FieldSpec) (*Writer, error) {
	var off int64
	fields := make(map[string]FieldSpec, len(specs))
	for i := range specs {
		s := specs[i]
		if len(s.Shape) == 0 {
			return nil, fmt.Errorf("create cube: field %s has no shape", s.Name)
		}
		if s.Chunk <= 0 {
			s.Chunk = DefaultChunk
		}
		if len(s.Times) > 0 && len(s.Times) != s.Shape[0] {
			return nil, fmt.Errorf("create cube: field %s has %d times for %d records",
				s.Name, len(s.Times), s.Shape[0])
		}
		s.Offset = off
		off += s.elems() * 4
		specs[i] = s
		fields[s.Name] = s
	}

	raw, err := json.Marshal(header{Fields: specs})
	if err != nil {
		return nil, fmt.Errorf("create cube: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cube: %w", err)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	for _, b := range [][]byte{magic[:], lenBuf[:], raw} {
		if _, err := f.Write(b); err != nil {
			f.Close()
			return nil, fmt.Errorf("create cube: %w", err)
		}
	}

	return &Writer{f: f, fields: fields, dataOff: 12 + int64(len(raw))}, nil
}

// WriteRecords writes consecutive axis-0 records starting at index lo. The
// data length must be a whole number of records no larger than the field's
// chunk size; larger spans are written chunk by chunk by the caller.
func (w *Writer) WriteRecords(field string, lo int, data []float32) error {
	spec, ok := w.fields[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	rec := spec.recordSize()
	if rec == 0 || int64(len(data))%rec != 0 {
		return fmt.Errorf("write cube: field %s: %d values is not a whole record", field, len(data))
	}
	n := int64(len(data)) / rec
	if n > int64(spec.Chunk) {
		return fmt.Errorf("write cube: field %s: %d records exceeds chunk %d", field, n, spec.Chunk)
	}
	if lo < 0 || int64(lo)+n > int64(spec.Shape[0]) {
		return fmt.Errorf("%w: records [%d,%d) of %d", ErrOutOfBounds, lo, int64(lo)+n, spec.Shape[0])
	}

	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	off := w.dataOff + spec.Offset + int64(lo)*rec*4
	if _, err := w.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write cube payload: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
