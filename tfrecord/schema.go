package tfrecord

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/Noofbiz/trajstream/tensor"
)

// VariableDim marks the leading (trajectory-length) dimension of a field's
// shape template, whose size differs per record.
const VariableDim = -1

// FieldSpec describes one named field of a record.
type FieldSpec struct {
	Name  string
	DType tensor.DType

	// Shape is the shape template. Shape[0] is VariableDim for any
	// non-scalar field; all trailing dimensions are fixed. Scalars have an
	// empty Shape.
	Shape []int
}

// Scalar reports whether the field has no leading dimension at all.
func (f FieldSpec) Scalar() bool { return len(f.Shape) == 0 }

// Schema is the fixed set of fields a dataset's records carry. It is probed
// once from a sample record and then passed explicitly to every decode; it is
// never re-inferred per record.
type Schema struct {
	fields map[string]FieldSpec
}

// NewSchema builds a schema from field specs. Names must be unique.
func NewSchema(specs []FieldSpec) (*Schema, error) {
	fields := make(map[string]FieldSpec, len(specs))
	for _, spec := range specs {
		if _, dup := fields[spec.Name]; dup {
			return nil, &SchemaError{Err: errors.Errorf("duplicate field %q", spec.Name)}
		}
		fields[spec.Name] = spec
	}
	return &Schema{fields: fields}, nil
}

// Field returns the spec for name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	spec, ok := s.fields[name]
	return spec, ok
}

// Has reports whether the schema defines name.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns all field specs sorted by name.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(s.fields))
	for _, spec := range s.fields {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Probe infers the schema from the first record of the shard at path. Each
// field's element dtype and shape are recovered from its stored TensorProto,
// and the leading dimension of every non-scalar field is marked variable.
func Probe(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: errors.Wrap(err, "open shard")}
	}
	defer f.Close()

	raw, err := NewReader(f).Next()
	if err != nil {
		if err == io.EOF {
			return nil, &SchemaError{Path: path, Err: errors.New("shard is empty")}
		}
		return nil, &SchemaError{Path: path, Err: err}
	}

	payloads, err := parseExample(raw)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}

	specs := make([]FieldSpec, 0, len(payloads))
	for name, payload := range payloads {
		t, err := parseTensorProto(payload)
		if err != nil {
			return nil, &SchemaError{Path: path, Err: errors.Wrapf(err, "field %q", name)}
		}
		shape := t.Dims()
		if len(shape) > 0 {
			shape[0] = VariableDim
		}
		specs = append(specs, FieldSpec{Name: name, DType: t.DType(), Shape: shape})
	}
	return NewSchema(specs)
}

// Decode parses one raw serialized record into named tensors and validates
// each against the schema: the dtype must match, the rank must match, and
// every dimension after the first must match exactly. The leading dimension
// may be any non-negative size. Failures are fatal for the shard.
func Decode(raw []byte, schema *Schema) (map[string]*tensor.Tensor, error) {
	payloads, err := parseExample(raw)
	if err != nil {
		return nil, err
	}
	if len(payloads) != schema.Len() {
		return nil, &DecodeError{Err: errors.Errorf("record has %d fields, schema has %d", len(payloads), schema.Len())}
	}

	out := make(map[string]*tensor.Tensor, len(payloads))
	for name, payload := range payloads {
		spec, ok := schema.Field(name)
		if !ok {
			return nil, &DecodeError{Field: name, Err: errors.New("field not in schema")}
		}
		t, err := parseTensorProto(payload)
		if err != nil {
			return nil, &DecodeError{Field: name, Err: err}
		}
		if t.DType() != spec.DType {
			return nil, &DecodeError{Field: name, Err: errors.Errorf("dtype %s, schema requires %s", t.DType(), spec.DType)}
		}
		if err := checkShape(name, spec.Shape, t.Dims()); err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func checkShape(name string, want, got []int) error {
	if len(got) != len(want) {
		return &ShapeError{Field: name, Want: want, Got: got}
	}
	for i := 1; i < len(want); i++ {
		if got[i] != want[i] {
			return &ShapeError{Field: name, Want: want, Got: got}
		}
	}
	return nil
}
