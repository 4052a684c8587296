package tfrecord

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Noofbiz/trajstream/tensor"
)

// parseTensorProto decodes a serialized tensorflow TensorProto into a tensor.
// Element data may arrive either as the raw tensor_content buffer or as the
// per-dtype repeated value fields (packed or not); both forms occur in the
// wild depending on which writer produced the shard.
func parseTensorProto(raw []byte) (*tensor.Tensor, error) {
	var (
		dtypeVal uint64
		dims     []int
		content  []byte
		varints  []uint64 // half_val, int_val, int64_val, bool_val
		fixed32s []uint32 // float_val
		fixed64s []uint64 // double_val
		strs     []string // string_val
	)

	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tensor tag")
		}
		raw = raw[n:]
		switch num {
		case tpDType:
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "dtype")
			}
			raw = raw[n:]
			dtypeVal = v
		case tpShape:
			msg, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tensor_shape")
			}
			raw = raw[n:]
			var err error
			dims, err = parseShape(msg)
			if err != nil {
				return nil, err
			}
		case tpContent:
			b, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tensor_content")
			}
			raw = raw[n:]
			content = b
		case tpStringVal:
			b, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "string_val")
			}
			raw = raw[n:]
			strs = append(strs, string(b))
		case tpHalfVal, tpIntVal, tpInt64Val, tpBoolVal:
			rest, vals, err := consumeVarints(raw, typ)
			if err != nil {
				return nil, err
			}
			raw = rest
			varints = append(varints, vals...)
		case tpFloatVal:
			rest, vals, err := consumeFixed32s(raw, typ)
			if err != nil {
				return nil, err
			}
			raw = rest
			fixed32s = append(fixed32s, vals...)
		case tpDoubleVal:
			rest, vals, err := consumeFixed64s(raw, typ)
			if err != nil {
				return nil, err
			}
			raw = rest
			fixed64s = append(fixed64s, vals...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tensor field")
			}
			raw = raw[n:]
		}
	}

	dtype, err := dtypeFromProto(dtypeVal)
	if err != nil {
		return nil, err
	}
	size := tensor.NumElements(dims)

	if dtype == tensor.String {
		if len(strs) != size {
			return nil, errors.Errorf("%d string values do not fill shape %v", len(strs), dims)
		}
		return tensor.NewStrings(dims, strs)
	}

	if content == nil {
		content, err = packValues(dtype, size, varints, fixed32s, fixed64s)
		if err != nil {
			return nil, err
		}
	}
	return tensor.New(dtype, dims, content)
}

func parseShape(raw []byte) ([]int, error) {
	dims := []int{}
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "shape tag")
		}
		raw = raw[n:]
		switch {
		case num == shapeDim && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "shape dim")
			}
			raw = raw[n:]
			size, err := parseDim(msg)
			if err != nil {
				return nil, err
			}
			dims = append(dims, size)
		case num == shapeUnknownRank:
			return nil, errors.New("tensors of unknown rank are not supported")
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "shape field")
			}
			raw = raw[n:]
		}
	}
	return dims, nil
}

func parseDim(raw []byte) (int, error) {
	size := 0
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return 0, errors.Wrap(protowire.ParseError(n), "dim tag")
		}
		raw = raw[n:]
		if num == dimSize && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(raw)
			if n < 0 {
				return 0, errors.Wrap(protowire.ParseError(n), "dim size")
			}
			raw = raw[n:]
			if int64(v) < 0 {
				return 0, errors.Errorf("negative dimension %d", int64(v))
			}
			size = int(v)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, raw)
		if n < 0 {
			return 0, errors.Wrap(protowire.ParseError(n), "dim field")
		}
		raw = raw[n:]
	}
	return size, nil
}

// consumeVarints reads one varint-typed field occurrence, which may be a
// packed run or a single value.
func consumeVarints(raw []byte, typ protowire.Type) ([]byte, []uint64, error) {
	switch typ {
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "packed varints")
		}
		var vals []uint64
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				return nil, nil, errors.Wrap(protowire.ParseError(n), "packed varint")
			}
			packed = packed[n:]
			vals = append(vals, v)
		}
		return raw[n:], vals, nil
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "varint")
		}
		return raw[n:], []uint64{v}, nil
	default:
		return nil, nil, errors.Errorf("unexpected wire type %d for varint field", typ)
	}
}

func consumeFixed32s(raw []byte, typ protowire.Type) ([]byte, []uint32, error) {
	switch typ {
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "packed fixed32s")
		}
		if len(packed)%4 != 0 {
			return nil, nil, errors.Errorf("packed fixed32 run of %d bytes", len(packed))
		}
		vals := make([]uint32, len(packed)/4)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint32(packed[i*4:])
		}
		return raw[n:], vals, nil
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "fixed32")
		}
		return raw[n:], []uint32{v}, nil
	default:
		return nil, nil, errors.Errorf("unexpected wire type %d for fixed32 field", typ)
	}
}

func consumeFixed64s(raw []byte, typ protowire.Type) ([]byte, []uint64, error) {
	switch typ {
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "packed fixed64s")
		}
		if len(packed)%8 != 0 {
			return nil, nil, errors.Errorf("packed fixed64 run of %d bytes", len(packed))
		}
		vals := make([]uint64, len(packed)/8)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint64(packed[i*8:])
		}
		return raw[n:], vals, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(raw)
		if n < 0 {
			return nil, nil, errors.Wrap(protowire.ParseError(n), "fixed64")
		}
		return raw[n:], []uint64{v}, nil
	default:
		return nil, nil, errors.Errorf("unexpected wire type %d for fixed64 field", typ)
	}
}

// packValues assembles the little-endian element buffer from the repeated
// value fields when tensor_content is absent.
func packValues(dtype tensor.DType, size int, varints []uint64, fixed32s []uint32, fixed64s []uint64) ([]byte, error) {
	switch dtype {
	case tensor.Float32:
		if len(fixed32s) != size {
			return nil, errors.Errorf("%d float values do not fill %d elements", len(fixed32s), size)
		}
		out := make([]byte, 4*size)
		for i, v := range fixed32s {
			binary.LittleEndian.PutUint32(out[i*4:], v)
		}
		return out, nil
	case tensor.Float64:
		if len(fixed64s) != size {
			return nil, errors.Errorf("%d double values do not fill %d elements", len(fixed64s), size)
		}
		out := make([]byte, 8*size)
		for i, v := range fixed64s {
			binary.LittleEndian.PutUint64(out[i*8:], v)
		}
		return out, nil
	case tensor.Float16:
		if len(varints) != size {
			return nil, errors.Errorf("%d half values do not fill %d elements", len(varints), size)
		}
		out := make([]byte, 2*size)
		for i, v := range varints {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, nil
	case tensor.Int32:
		if len(varints) != size {
			return nil, errors.Errorf("%d int values do not fill %d elements", len(varints), size)
		}
		out := make([]byte, 4*size)
		for i, v := range varints {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(int64(v))))
		}
		return out, nil
	case tensor.Int64:
		if len(varints) != size {
			return nil, errors.Errorf("%d int64 values do not fill %d elements", len(varints), size)
		}
		out := make([]byte, 8*size)
		for i, v := range varints {
			binary.LittleEndian.PutUint64(out[i*8:], v)
		}
		return out, nil
	case tensor.Uint8:
		if len(varints) != size {
			return nil, errors.Errorf("%d uint8 values do not fill %d elements", len(varints), size)
		}
		out := make([]byte, size)
		for i, v := range varints {
			out[i] = byte(v)
		}
		return out, nil
	case tensor.Bool:
		if len(varints) != size {
			return nil, errors.Errorf("%d bool values do not fill %d elements", len(varints), size)
		}
		out := make([]byte, size)
		for i, v := range varints {
			if v != 0 {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("no value field handling for dtype %s", dtype)
	}
}
