package datasets

import (
	"context"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/trajstream/tensor"
)

// The methods below implement gomlx's train.Dataset interface so a Dataset
// can drive a gomlx training loop directly. Batch fields are converted to
// gomlx tensors at this edge only; everything upstream works on the
// pipeline's own flat-buffer tensors.

// Name returns the dataset name for training logs.
func (d *Dataset) Name() string { return "TrajectoryDataset" }

// Yield returns the next mini-batch as gomlx tensors, split into inputs and
// labels per Config.InputFields and Config.LabelFields. With no configured
// input fields, every numeric schema field becomes an input in sorted name
// order; the reserved tag fields and string fields, which have no gomlx
// representation, are never included implicitly.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := d.Next(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}

	inputFields := d.cfg.InputFields
	if len(inputFields) == 0 {
		for name, t := range batch {
			if name == FieldIndex || name == FieldLength {
				continue
			}
			if t.DType() == tensor.String {
				continue
			}
			if contains(d.cfg.LabelFields, name) {
				continue
			}
			inputFields = append(inputFields, name)
		}
		sort.Strings(inputFields)
	}

	inputs, err = fieldsToGomlx(batch, inputFields)
	if err != nil {
		return nil, nil, nil, err
	}
	labels, err = fieldsToGomlx(batch, d.cfg.LabelFields)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, inputs, labels, nil
}

// Restart resets the dataset for a new epoch. The batch stream is unbounded,
// so this simply reopens it; materialize caches keep their contents.
func (d *Dataset) Restart() error {
	d.current = nil
	return nil
}

func fieldsToGomlx(batch Record, names []string) ([]*tensors.Tensor, error) {
	out := make([]*tensors.Tensor, 0, len(names))
	for _, name := range names {
		t, ok := batch[name]
		if !ok {
			return nil, errors.Errorf("batch has no field %q", name)
		}
		g, err := t.ToGomlx()
		if err != nil {
			return nil, errors.Wrapf(err, "convert field %q", name)
		}
		out = append(out, g)
	}
	return out, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
