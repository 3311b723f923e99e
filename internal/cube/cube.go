// Package cube reads and writes chunked gridded array files. A cube file is a
// small JSON header describing one or more named float32 fields followed by
// the raw little-endian payload. Fields are addressed by a record index along
// axis 0 (time for satellite imagery, sample index for validation bundles)
// and are streamed through io.ReaderAt rather than loaded wholesale.
//
// Layout:
//
//	magic "PVCUBE1\n" | uint32 header length | JSON header | payload
//
// Each field's payload is laid out contiguously in row-major order, written
// in chunks of `chunk` records along axis 0.
package cube

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/goccy/go-json"
)

var magic = [8]byte{'P', 'V', 'C', 'U', 'B', 'E', '1', '\n'}

// maxHeaderLen bounds the JSON header so a corrupt length field cannot
// trigger a multi-gigabyte allocation.
const maxHeaderLen = 16 << 20

var (
	// ErrUnknownField is returned when a cube has no field with that name.
	ErrUnknownField = errors.New("unknown cube field")

	// ErrOutOfBounds is returned for reads outside a field's extent.
	ErrOutOfBounds = errors.New("cube read out of bounds")
)

// FieldSpec describes one named array in a cube file.
type FieldSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`

	// Chunk is the write granularity along axis 0.
	Chunk int `json:"chunk"`

	// Times holds the axis-0 timestamps (unix seconds, UTC) for time-indexed
	// fields. Empty for sample-indexed fields.
	Times []int64 `json:"times,omitempty"`

	// Offset is the field payload's byte offset from the start of the payload
	// section. Computed by the writer.
	Offset int64 `json:"offset"`
}

type header struct {
	Fields []FieldSpec `json:"fields"`
}

func (s FieldSpec) elems() int64 {
	n := int64(1)
	for _, d := range s.Shape {
		n *= int64(d)
	}
	return n
}

// recordSize returns the number of float32 values in one axis-0 record.
func (s FieldSpec) recordSize() int64 {
	if len(s.Shape) == 0 {
		return 0
	}
	return s.elems() / int64(s.Shape[0])
}

// Cube is an open cube file.
type Cube struct {
	f       *os.File
	fields  map[string]*Field
	names   []string
	dataOff int64
}

// Field is a named array within an open cube.
type Field struct {
	spec      FieldSpec
	cube      *Cube
	timeIndex map[int64]int
}

// Open opens a cube file and parses its header.
func Open(path string) (*Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cube: %w", err)
	}

	var mg [8]byte
	if _, err := f.ReadAt(mg[:], 0); err != nil || mg != magic {
		f.Close()
		return nil, fmt.Errorf("open cube %s: not a cube file", path)
	}

	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], 8); err != nil {
		f.Close()
		return nil, fmt.Errorf("open cube: %w", err)
	}
	headerLen := binary.LittleEndian.Uint32(lenBuf[:])
	if headerLen == 0 || headerLen > maxHeaderLen {
		f.Close()
		return nil, fmt.Errorf("open cube %s: header length %d out of range", path, headerLen)
	}

	raw := make([]byte, headerLen)
	if _, err := f.ReadAt(raw, 12); err != nil {
		f.Close()
		return nil, fmt.Errorf("open cube: %w", err)
	}

	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cube header: %w", err)
	}

	c := &Cube{
		f:       f,
		fields:  make(map[string]*Field, len(h.Fields)),
		dataOff: 12 + int64(headerLen),
	}
	for _, spec := range h.Fields {
		fld := &Field{spec: spec, cube: c}
		if len(spec.Times) > 0 {
			fld.timeIndex = make(map[int64]int, len(spec.Times))
			for i, ts := range spec.Times {
				fld.timeIndex[ts] = i
			}
		}
		c.fields[spec.Name] = fld
		c.names = append(c.names, spec.Name)
	}
	return c, nil
}

// Close closes the underlying file.
func (c *Cube) Close() error {
	return c.f.Close()
}

// Field returns the named field.
func (c *Cube) Field(name string) (*Field, error) {
	f, ok := c.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return f, nil
}

// Fields lists the field names in declaration order.
func (c *Cube) Fields() []string {
	return c.names
}

// Shape returns the field's full shape.
func (f *Field) Shape() []int {
	out := make([]int, len(f.spec.Shape))
	copy(out, f.spec.Shape)
	return out
}

// Len returns the field's axis-0 extent.
func (f *Field) Len() int {
	if len(f.spec.Shape) == 0 {
		return 0
	}
	return f.spec.Shape[0]
}

// TimeIndex maps a timestamp to its axis-0 index, if present.
func (f *Field) TimeIndex(t time.Time) (int, bool) {
	i, ok := f.timeIndex[t.UTC().Unix()]
	return i, ok
}

// TimeIndicesBetween returns the axis-0 indices whose timestamps fall in
// [from, to], ascending. Times are stored ascending, so a linear scan over
// the spec slice preserves order.
func (f *Field) TimeIndicesBetween(from, to time.Time) []int {
	lo, hi := from.UTC().Unix(), to.UTC().Unix()
	var out []int
	for i, ts := range f.spec.Times {
		if ts >= lo && ts <= hi {
			out = append(out, i)
		}
	}
	return out
}

// ReadRecords reads records [lo, hi) along axis 0 into a flat float32 slice.
func (f *Field) ReadRecords(lo, hi int) ([]float32, error) {
	if lo < 0 || hi > f.Len() || lo > hi {
		return nil, fmt.Errorf("%w: records [%d,%d) of %d", ErrOutOfBounds, lo, hi, f.Len())
	}
	rec := f.spec.recordSize()
	out := make([]float32, int64(hi-lo)*rec)
	off := f.cube.dataOff + f.spec.Offset + int64(lo)*rec*4
	if err := readFloats(f.cube.f, off, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRecord reads a single axis-0 record.
func (f *Field) ReadRecord(i int) ([]float32, error) {
	return f.ReadRecords(i, i+1)
}

// ReadCrop reads, for each record index in recs, the spatial window
// rows [y0, y0+size) x cols [x0, x0+size) of a single channel from a
// (T, H, W, C) field. The result is flat, shaped (len(recs), size, size).
// Windows extending past the grid edge are out of bounds.
func (f *Field) ReadCrop(recs []int, y0, x0, size, channel int) ([]float32, error) {
	if len(f.spec.Shape) != 4 {
		return nil, fmt.Errorf("%w: crop requires a (T, H, W, C) field", ErrOutOfBounds)
	}
	h, w, ch := f.spec.Shape[1], f.spec.Shape[2], f.spec.Shape[3]
	if y0 < 0 || x0 < 0 || y0+size > h || x0+size > w {
		return nil, fmt.Errorf("%w: crop [%d:%d, %d:%d) of (%d, %d)",
			ErrOutOfBounds, y0, y0+size, x0, x0+size, h, w)
	}
	if channel < 0 || channel >= ch {
		return nil, fmt.Errorf("%w: channel %d of %d", ErrOutOfBounds, channel, ch)
	}

	out := make([]float32, len(recs)*size*size)
	rowBuf := make([]float32, size*ch)
	rec := f.spec.recordSize()

	for ri, t := range recs {
		if t < 0 || t >= f.Len() {
			return nil, fmt.Errorf("%w: record %d of %d", ErrOutOfBounds, t, f.Len())
		}
		for y := 0; y < size; y++ {
			// One grid row's crop segment across all channels.
			elem := int64(t)*rec + (int64(y0+y)*int64(w)+int64(x0))*int64(ch)
			off := f.cube.dataOff + f.spec.Offset + elem*4
			if err := readFloats(f.cube.f, off, rowBuf); err != nil {
				return nil, err
			}
			dst := out[(ri*size+y)*size:]
			for x := 0; x < size; x++ {
				dst[x] = rowBuf[x*ch+channel]
			}
		}
	}
	return out, nil
}

func readFloats(f *os.File, off int64, dst []float32) error {
	buf := make([]byte, len(dst)*4)
	if _, err := f.ReadAt(buf, off); err != nil {
		return fmt.Errorf("read cube payload: %w", err)
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return nil
}
