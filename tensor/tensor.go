// Package tensor provides a small dense tensor value used throughout the
// trajectory pipeline.
//
// A Tensor is a dtype tag, a list of dimensions and a flat contiguous buffer
// (little-endian for fixed-width element types, a string slice for DT_STRING
// style data). The pipeline only ever needs a handful of structural
// operations on the leading axis - slicing one step out of a trajectory,
// repeating a value to broadcast it to the trajectory length, and stacking
// steps back together - so that is all this package implements. Converting to
// gomlx tensors for training is a separate, well-defined step (see ToGomlx),
// mirroring how the datasets keep flat buffers plus shape metadata and only
// materialize framework tensors at the edge.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType enumerates the element types the pipeline can carry.
type DType uint8

const (
	Invalid DType = iota
	Float16
	Float32
	Float64
	Int32
	Int64
	Uint8
	Bool
	String
)

// Size returns the number of bytes per element, or 0 for String, whose
// elements are variable-length and stored out of band.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "invalid"
	}
}

// Tensor is a dense, contiguous, row-major tensor. A rank-0 tensor is a
// scalar. Tensors are immutable by convention: operations return new values
// and never write through a shared buffer.
type Tensor struct {
	dtype DType
	dims  []int
	raw   []byte   // fixed-width dtypes, little-endian
	strs  []string // String dtype only
}

// NumElements returns the product of dims (1 for a scalar).
func NumElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// New builds a tensor from a raw little-endian buffer. The buffer length must
// match dtype.Size() * NumElements(dims).
func New(dtype DType, dims []int, raw []byte) (*Tensor, error) {
	if dtype == Invalid || dtype == String {
		return nil, fmt.Errorf("tensor: New does not accept dtype %s", dtype)
	}
	want := dtype.Size() * NumElements(dims)
	if len(raw) != want {
		return nil, fmt.Errorf("tensor: buffer has %d bytes, dims %v of %s need %d", len(raw), dims, dtype, want)
	}
	return &Tensor{dtype: dtype, dims: cloneDims(dims), raw: raw}, nil
}

// NewStrings builds a String tensor. The value count must match the dims.
func NewStrings(dims []int, vals []string) (*Tensor, error) {
	if len(vals) != NumElements(dims) {
		return nil, fmt.Errorf("tensor: %d strings do not fill dims %v", len(vals), dims)
	}
	return &Tensor{dtype: String, dims: cloneDims(dims), strs: vals}, nil
}

func cloneDims(dims []int) []int {
	out := make([]int, len(dims))
	copy(out, dims)
	return out
}

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Dims returns a copy of the tensor's dimensions. A scalar has no dims.
func (t *Tensor) Dims() []int { return cloneDims(t.dims) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.dims) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return NumElements(t.dims) }

// Leading returns the size of the first dimension. ok is false for scalars,
// which have no leading dimension at all.
func (t *Tensor) Leading() (n int, ok bool) {
	if len(t.dims) == 0 {
		return 0, false
	}
	return t.dims[0], true
}

// Raw returns the underlying little-endian buffer. Callers must not modify
// it. Nil for String tensors.
func (t *Tensor) Raw() []byte { return t.raw }

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, dims=%v)", t.dtype, t.dims)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{dtype: t.dtype, dims: cloneDims(t.dims)}
	if t.raw != nil {
		out.raw = make([]byte, len(t.raw))
		copy(out.raw, t.raw)
	}
	if t.strs != nil {
		out.strs = make([]string, len(t.strs))
		copy(out.strs, t.strs)
	}
	return out
}

// strideBytes is the byte length of one slice along the leading axis.
func (t *Tensor) strideBytes() int {
	return t.dtype.Size() * NumElements(t.dims[1:])
}

// Slice extracts the i-th entry along the leading axis, dropping that axis.
// Slicing a [5, 3] tensor yields a [3] tensor; slicing a [5] tensor yields a
// scalar.
func (t *Tensor) Slice(i int) (*Tensor, error) {
	n, ok := t.Leading()
	if !ok {
		return nil, fmt.Errorf("tensor: cannot slice a scalar")
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("tensor: slice index %d out of range [0, %d)", i, n)
	}
	out := &Tensor{dtype: t.dtype, dims: cloneDims(t.dims[1:])}
	if t.dtype == String {
		stride := NumElements(t.dims[1:])
		out.strs = t.strs[i*stride : (i+1)*stride]
		return out, nil
	}
	stride := t.strideBytes()
	out.raw = t.raw[i*stride : (i+1)*stride]
	return out, nil
}

// Repeat broadcasts a tensor to a leading dimension of n. A scalar becomes a
// [n] vector of n copies; a tensor whose leading dimension is 1 has that
// dimension grown to n by repeating the single entry. Any other input is an
// error: repetition is only defined for broadcast candidates.
func (t *Tensor) Repeat(n int) (*Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("tensor: repeat count %d must be positive", n)
	}
	lead, ok := t.Leading()
	switch {
	case !ok:
		out := &Tensor{dtype: t.dtype, dims: []int{n}}
		if t.dtype == String {
			out.strs = make([]string, n)
			for i := range out.strs {
				out.strs[i] = t.strs[0]
			}
			return out, nil
		}
		out.raw = make([]byte, n*len(t.raw))
		for i := 0; i < n; i++ {
			copy(out.raw[i*len(t.raw):], t.raw)
		}
		return out, nil
	case lead == 1:
		dims := cloneDims(t.dims)
		dims[0] = n
		out := &Tensor{dtype: t.dtype, dims: dims}
		if t.dtype == String {
			stride := NumElements(t.dims[1:])
			out.strs = make([]string, n*stride)
			for i := 0; i < n; i++ {
				copy(out.strs[i*stride:], t.strs)
			}
			return out, nil
		}
		out.raw = make([]byte, n*len(t.raw))
		for i := 0; i < n; i++ {
			copy(out.raw[i*len(t.raw):], t.raw)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor: cannot repeat leading dimension %d (only scalars and leading-1 tensors broadcast)", lead)
	}
}

// Stack combines tensors of identical dtype and dims into one tensor with a
// new leading axis of size len(ts).
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: cannot stack zero tensors")
	}
	first := ts[0]
	for i, t := range ts[1:] {
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("tensor: stack dtype mismatch at %d: %s vs %s", i+1, t.dtype, first.dtype)
		}
		if !dimsEqual(t.dims, first.dims) {
			return nil, fmt.Errorf("tensor: stack dims mismatch at %d: %v vs %v", i+1, t.dims, first.dims)
		}
	}
	dims := append([]int{len(ts)}, first.dims...)
	out := &Tensor{dtype: first.dtype, dims: dims}
	if first.dtype == String {
		out.strs = make([]string, 0, len(ts)*len(first.strs))
		for _, t := range ts {
			out.strs = append(out.strs, t.strs...)
		}
		return out, nil
	}
	out.raw = make([]byte, 0, len(ts)*len(first.raw))
	for _, t := range ts {
		out.raw = append(out.raw, t.raw...)
	}
	return out, nil
}

func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two tensors have the same dtype, dims and contents.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.dtype != o.dtype || !dimsEqual(t.dims, o.dims) {
		return false
	}
	if t.dtype == String {
		for i := range t.strs {
			if t.strs[i] != o.strs[i] {
				return false
			}
		}
		return true
	}
	if len(t.raw) != len(o.raw) {
		return false
	}
	for i := range t.raw {
		if t.raw[i] != o.raw[i] {
			return false
		}
	}
	return true
}

// FromFloat32s builds a Float32 tensor from values. Omitting dims produces a
// rank-1 tensor of len(vals); passing no values and no dims is invalid.
func FromFloat32s(vals []float32, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return New(Float32, dims, raw)
}

// FromFloat64s builds a Float64 tensor.
func FromFloat64s(vals []float64, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return New(Float64, dims, raw)
}

// FromFloat16s builds a Float16 tensor from half-precision values.
func FromFloat16s(vals []float16.Float16, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(raw[i*2:], v.Bits())
	}
	return New(Float16, dims, raw)
}

// FromInt32s builds an Int32 tensor.
func FromInt32s(vals []int32, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}
	return New(Int32, dims, raw)
}

// FromInt64s builds an Int64 tensor.
func FromInt64s(vals []int64, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return New(Int64, dims, raw)
}

// FromUint8s builds a Uint8 tensor.
func FromUint8s(vals []byte, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, len(vals))
	copy(raw, vals)
	return New(Uint8, dims, raw)
}

// FromBools builds a Bool tensor.
func FromBools(vals []bool, dims ...int) (*Tensor, error) {
	if dims == nil {
		dims = []int{len(vals)}
	}
	raw := make([]byte, len(vals))
	for i, v := range vals {
		if v {
			raw[i] = 1
		}
	}
	return New(Bool, dims, raw)
}

// ScalarInt64 builds a rank-0 Int64 tensor.
func ScalarInt64(v int64) *Tensor {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, uint64(v))
	t, _ := New(Int64, nil, raw)
	return t
}

// ScalarFloat32 builds a rank-0 Float32 tensor.
func ScalarFloat32(v float32) *Tensor {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(v))
	t, _ := New(Float32, nil, raw)
	return t
}

// ScalarString builds a rank-0 String tensor.
func ScalarString(v string) *Tensor {
	return &Tensor{dtype: String, strs: []string{v}}
}

// Float32s returns the elements as float32. Float16 tensors are widened.
func (t *Tensor) Float32s() ([]float32, error) {
	switch t.dtype {
	case Float32:
		out := make([]float32, t.Size())
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.raw[i*4:]))
		}
		return out, nil
	case Float16:
		out := make([]float32, t.Size())
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.raw[i*2:])).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor: Float32s on %s tensor", t.dtype)
	}
}

// Float64s returns the elements of a Float64 tensor.
func (t *Tensor) Float64s() ([]float64, error) {
	if t.dtype != Float64 {
		return nil, fmt.Errorf("tensor: Float64s on %s tensor", t.dtype)
	}
	out := make([]float64, t.Size())
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.raw[i*8:]))
	}
	return out, nil
}

// Float16s returns the elements of a Float16 tensor.
func (t *Tensor) Float16s() ([]float16.Float16, error) {
	if t.dtype != Float16 {
		return nil, fmt.Errorf("tensor: Float16s on %s tensor", t.dtype)
	}
	out := make([]float16.Float16, t.Size())
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.raw[i*2:]))
	}
	return out, nil
}

// Int32s returns the elements of an Int32 tensor.
func (t *Tensor) Int32s() ([]int32, error) {
	if t.dtype != Int32 {
		return nil, fmt.Errorf("tensor: Int32s on %s tensor", t.dtype)
	}
	out := make([]int32, t.Size())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.raw[i*4:]))
	}
	return out, nil
}

// Int64s returns the elements of an Int64 tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.dtype != Int64 {
		return nil, fmt.Errorf("tensor: Int64s on %s tensor", t.dtype)
	}
	out := make([]int64, t.Size())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.raw[i*8:]))
	}
	return out, nil
}

// Uint8s returns the elements of a Uint8 tensor.
func (t *Tensor) Uint8s() ([]byte, error) {
	if t.dtype != Uint8 {
		return nil, fmt.Errorf("tensor: Uint8s on %s tensor", t.dtype)
	}
	out := make([]byte, len(t.raw))
	copy(out, t.raw)
	return out, nil
}

// Bools returns the elements of a Bool tensor.
func (t *Tensor) Bools() ([]bool, error) {
	if t.dtype != Bool {
		return nil, fmt.Errorf("tensor: Bools on %s tensor", t.dtype)
	}
	out := make([]bool, len(t.raw))
	for i, b := range t.raw {
		out[i] = b != 0
	}
	return out, nil
}

// Strings returns the elements of a String tensor.
func (t *Tensor) Strings() ([]string, error) {
	if t.dtype != String {
		return nil, fmt.Errorf("tensor: Strings on %s tensor", t.dtype)
	}
	out := make([]string, len(t.strs))
	copy(out, t.strs)
	return out, nil
}

// ScalarInt64Value returns the value of a rank-0 Int64 tensor.
func (t *Tensor) ScalarInt64Value() (int64, error) {
	if t.dtype != Int64 || len(t.dims) != 0 {
		return 0, fmt.Errorf("tensor: ScalarInt64Value on %s", t)
	}
	return int64(binary.LittleEndian.Uint64(t.raw)), nil
}
