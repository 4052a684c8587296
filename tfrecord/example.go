package tfrecord

import (
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Noofbiz/trajstream/tensor"
)

// Field numbers of the handful of tensorflow proto messages we speak.
//
//	Example.features        = 1
//	Features.feature        = 1 (map entry: key = 1, value = 2)
//	Feature.bytes_list      = 1
//	BytesList.value         = 1
//	TensorProto.dtype       = 1
//	TensorProto.tensor_shape = 2
//	TensorProto.tensor_content = 4
//	TensorProto.float_val   = 5
//	TensorProto.double_val  = 6
//	TensorProto.int_val     = 7
//	TensorProto.string_val  = 8
//	TensorProto.int64_val   = 10
//	TensorProto.bool_val    = 11
//	TensorProto.half_val    = 13
//	TensorShapeProto.dim    = 2 (Dim.size = 1)
//	TensorShapeProto.unknown_rank = 3
const (
	exampleFeatures   = 1
	featuresFeature   = 1
	mapEntryKey       = 1
	mapEntryValue     = 2
	featureBytesList  = 1
	bytesListValue    = 1
	tpDType           = 1
	tpShape           = 2
	tpContent         = 4
	tpFloatVal        = 5
	tpDoubleVal       = 6
	tpIntVal          = 7
	tpStringVal       = 8
	tpInt64Val        = 10
	tpBoolVal         = 11
	tpHalfVal         = 13
	shapeDim          = 2
	shapeUnknownRank  = 3
	dimSize           = 1
)

// tensorflow DataType enum values for the dtypes the pipeline supports.
const (
	dtFloat  = 1
	dtDouble = 2
	dtInt32  = 3
	dtUint8  = 4
	dtString = 7
	dtInt64  = 9
	dtBool   = 10
	dtHalf   = 19
)

func dtypeFromProto(v uint64) (tensor.DType, error) {
	switch v {
	case dtFloat:
		return tensor.Float32, nil
	case dtDouble:
		return tensor.Float64, nil
	case dtInt32:
		return tensor.Int32, nil
	case dtUint8:
		return tensor.Uint8, nil
	case dtString:
		return tensor.String, nil
	case dtInt64:
		return tensor.Int64, nil
	case dtBool:
		return tensor.Bool, nil
	case dtHalf:
		return tensor.Float16, nil
	default:
		return tensor.Invalid, errors.Errorf("unsupported tensorflow dtype %d", v)
	}
}

func dtypeToProto(d tensor.DType) (uint64, error) {
	switch d {
	case tensor.Float32:
		return dtFloat, nil
	case tensor.Float64:
		return dtDouble, nil
	case tensor.Int32:
		return dtInt32, nil
	case tensor.Uint8:
		return dtUint8, nil
	case tensor.String:
		return dtString, nil
	case tensor.Int64:
		return dtInt64, nil
	case tensor.Bool:
		return dtBool, nil
	case tensor.Float16:
		return dtHalf, nil
	default:
		return 0, errors.Errorf("dtype %s has no tensorflow encoding", d)
	}
}

// parseExample splits a serialized tf.train.Example into per-field payloads.
// Each payload is the first bytes_list entry of the feature, which by the
// shard format holds a serialized TensorProto.
func parseExample(raw []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "example tag")}
		}
		raw = raw[n:]
		if num == exampleFeatures && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "features message")}
			}
			raw = raw[n:]
			if err := parseFeatures(msg, out); err != nil {
				return nil, err
			}
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, raw)
		if n < 0 {
			return nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "example field")}
		}
		raw = raw[n:]
	}
	if len(out) == 0 {
		return nil, &DecodeError{Err: errors.New("example has no features")}
	}
	return out, nil
}

func parseFeatures(raw []byte, out map[string][]byte) error {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "features tag")}
		}
		raw = raw[n:]
		if num == featuresFeature && typ == protowire.BytesType {
			entry, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "feature map entry")}
			}
			raw = raw[n:]
			key, payload, err := parseFeatureEntry(entry)
			if err != nil {
				return err
			}
			out[key] = payload
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, raw)
		if n < 0 {
			return &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "features field")}
		}
		raw = raw[n:]
	}
	return nil
}

// parseFeatureEntry parses one map<string, Feature> entry down to the first
// bytes_list value.
func parseFeatureEntry(raw []byte) (string, []byte, error) {
	var key string
	var payload []byte
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return "", nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "map entry tag")}
		}
		raw = raw[n:]
		switch {
		case num == mapEntryKey && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return "", nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "map entry key")}
			}
			raw = raw[n:]
			key = string(b)
		case num == mapEntryValue && typ == protowire.BytesType:
			feature, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return "", nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "map entry value")}
			}
			raw = raw[n:]
			b, err := parseFeature(feature)
			if err != nil {
				return "", nil, &DecodeError{Field: key, Err: err}
			}
			payload = b
		default:
			n = protowire.ConsumeFieldValue(num, typ, raw)
			if n < 0 {
				return "", nil, &DecodeError{Err: errors.Wrap(protowire.ParseError(n), "map entry field")}
			}
			raw = raw[n:]
		}
	}
	if key == "" || payload == nil {
		return "", nil, &DecodeError{Field: key, Err: errors.New("incomplete feature map entry")}
	}
	return key, payload, nil
}

func parseFeature(raw []byte) ([]byte, error) {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "feature tag")
		}
		raw = raw[n:]
		if num == featureBytesList && typ == protowire.BytesType {
			list, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "bytes_list")
			}
			raw = raw[n:]
			return parseBytesList(list)
		}
		// float_list / int64_list features have no tensor payload; the shard
		// format stores serialized TensorProtos exclusively.
		return nil, errors.New("feature is not a bytes_list")
	}
	return nil, errors.New("empty feature")
}

func parseBytesList(raw []byte) ([]byte, error) {
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "bytes_list tag")
		}
		raw = raw[n:]
		if num == bytesListValue && typ == protowire.BytesType {
			b, n := protowire.ConsumeBytes(raw)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "bytes_list value")
			}
			return b, nil
		}
		n = protowire.ConsumeFieldValue(num, typ, raw)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "bytes_list field")
		}
		raw = raw[n:]
	}
	return nil, errors.New("bytes_list has no values")
}

// EncodeExample serializes named tensors as a tf.train.Example whose features
// are bytes_lists holding one serialized TensorProto each. Fields are written
// in sorted name order so output is byte-stable.
func EncodeExample(fields map[string]*tensor.Tensor) ([]byte, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var features []byte
	for _, name := range names {
		tp, err := encodeTensorProto(fields[name])
		if err != nil {
			return nil, errors.Wrapf(err, "encode field %q", name)
		}

		var list []byte
		list = protowire.AppendTag(list, bytesListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, tp)

		var feature []byte
		feature = protowire.AppendTag(feature, featureBytesList, protowire.BytesType)
		feature = protowire.AppendBytes(feature, list)

		var entry []byte
		entry = protowire.AppendTag(entry, mapEntryKey, protowire.BytesType)
		entry = protowire.AppendBytes(entry, []byte(name))
		entry = protowire.AppendTag(entry, mapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, feature)

		features = protowire.AppendTag(features, featuresFeature, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var example []byte
	example = protowire.AppendTag(example, exampleFeatures, protowire.BytesType)
	example = protowire.AppendBytes(example, features)
	return example, nil
}

// WriteExample encodes the fields and writes them as one framed record.
func (w *Writer) WriteExample(fields map[string]*tensor.Tensor) error {
	raw, err := EncodeExample(fields)
	if err != nil {
		return err
	}
	return w.WriteRecord(raw)
}

func encodeTensorProto(t *tensor.Tensor) ([]byte, error) {
	dt, err := dtypeToProto(t.DType())
	if err != nil {
		return nil, err
	}

	var shape []byte
	for _, d := range t.Dims() {
		var dim []byte
		dim = protowire.AppendTag(dim, dimSize, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		shape = protowire.AppendTag(shape, shapeDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, dim)
	}

	var out []byte
	out = protowire.AppendTag(out, tpDType, protowire.VarintType)
	out = protowire.AppendVarint(out, dt)
	out = protowire.AppendTag(out, tpShape, protowire.BytesType)
	out = protowire.AppendBytes(out, shape)

	if t.DType() == tensor.String {
		vals, err := t.Strings()
		if err != nil {
			return nil, err
		}
		for _, s := range vals {
			out = protowire.AppendTag(out, tpStringVal, protowire.BytesType)
			out = protowire.AppendBytes(out, []byte(s))
		}
		return out, nil
	}

	out = protowire.AppendTag(out, tpContent, protowire.BytesType)
	out = protowire.AppendBytes(out, t.Raw())
	return out, nil
}
