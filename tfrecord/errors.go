package tfrecord

import "fmt"

// SchemaError signals that the sample record used to infer the schema was
// malformed, or that a schema could not be constructed at all. Fatal for
// dataset construction.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema: %v", e.Err)
	}
	return fmt.Sprintf("schema from %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// DecodeError signals a record payload that does not match the schema or
// cannot be parsed at all. Fatal for the shard; the schema is assumed
// globally consistent, so a mismatch means corrupt input, not a retryable
// condition.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ShapeError signals a decoded tensor whose runtime shape disagrees with the
// schema's shape template. All dimensions after the first must match exactly;
// the first may be any non-negative size.
type ShapeError struct {
	Field string
	Want  []int
	Got   []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("field %q has shape %v, schema requires %v (leading dimension variable)", e.Field, e.Got, e.Want)
}
