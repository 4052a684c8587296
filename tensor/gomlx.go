package tensor

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// ToGomlx converts the tensor into a gomlx tensor via tensors.FromAnyValue.
// The conversion goes through nested Go slices, which keeps this package free
// of any particular gomlx constructor beyond the one stable entry point.
// Float16 values are widened to float32 on the way out; String tensors have
// no gomlx equivalent and return an error.
func (t *Tensor) ToGomlx() (*tensors.Tensor, error) {
	flat, err := t.flatValue()
	if err != nil {
		return nil, err
	}
	if t.Rank() == 0 {
		return tensors.FromAnyValue(flat.Index(0).Interface()), nil
	}
	return tensors.FromAnyValue(nest(flat, t.dims).Interface()), nil
}

// flatValue returns the tensor contents as a typed flat slice.
func (t *Tensor) flatValue() (reflect.Value, error) {
	switch t.dtype {
	case Float32, Float16:
		vals, err := t.Float32s()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	case Float64:
		vals, err := t.Float64s()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	case Int32:
		vals, err := t.Int32s()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	case Int64:
		vals, err := t.Int64s()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	case Uint8:
		vals, err := t.Uint8s()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	case Bool:
		vals, err := t.Bools()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(vals), nil
	default:
		return reflect.Value{}, fmt.Errorf("tensor: no gomlx conversion for dtype %s", t.dtype)
	}
}

// nest reshapes a flat slice value into nested slices matching dims.
func nest(flat reflect.Value, dims []int) reflect.Value {
	if len(dims) <= 1 {
		return flat
	}
	out := reflect.MakeSlice(nestedType(flat.Type().Elem(), len(dims)), dims[0], dims[0])
	if dims[0] == 0 {
		return out
	}
	stride := flat.Len() / dims[0]
	for i := 0; i < dims[0]; i++ {
		out.Index(i).Set(nest(flat.Slice(i*stride, (i+1)*stride), dims[1:]))
	}
	return out
}

// nestedType builds the type [][]...[]elem with the given rank.
func nestedType(elem reflect.Type, rank int) reflect.Type {
	t := reflect.SliceOf(elem)
	for i := 1; i < rank; i++ {
		t = reflect.SliceOf(t)
	}
	return t
}
