package datasets

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Noofbiz/trajstream/tensor"
)

// Record maps field names to tensors. At the trajectory level every field's
// leading dimension is the trajectory length; at the frame level each field
// holds a single step's slice. Transforms treat records as immutable and
// return fresh maps.
type Record = map[string]*tensor.Tensor

// Reserved tag fields added to every trajectory. Their presence in the input
// schema is a fatal configuration error.
const (
	// FieldIndex carries the trajectory's stream-unique index.
	FieldIndex = "_i"
	// FieldLength carries the trajectory's canonical step count.
	FieldLength = "_len"
)

// The composite key packs a trajectory's length and its stream index into the
// 63 usable bits of an int64: the low 51 bits carry the index, the high 12
// the length. 2^51 indexes allow over two quadrillion trajectories per
// stream; 2^12 caps trajectories at 4095 steps.
const (
	trajIndexBits = 51
	maxTrajIndex  = int64(1) << trajIndexBits
	maxTrajLen    = int64(1) << (63 - trajIndexBits)
)

// ComposeKey packs a trajectory length and stream index into one sortable,
// groupable key: length * 2^51 + index. Because the key self-describes the
// trajectory's step count, a generic "group contiguous records sharing a key
// into a batch of key-derived size" primitive can reconstruct trajectories of
// arbitrary, data-dependent length. Out-of-budget inputs are rejected, never
// clamped: a silently wrapped key would collide with an unrelated trajectory.
func ComposeKey(length int, index int64) (int64, error) {
	if index < 0 || index >= maxTrajIndex || length < 0 || int64(length) >= maxTrajLen {
		return 0, &KeyOverflowError{Index: index, Length: length}
	}
	key := int64(length)*maxTrajIndex + index
	if key%maxTrajIndex != index || key/maxTrajIndex != int64(length) {
		return 0, &KeyOverflowError{Index: index, Length: length}
	}
	return key, nil
}

// SplitKey recovers the trajectory length and stream index from a composite
// key. For every key ComposeKey constructs, SplitKey(key) round-trips to the
// original pair.
func SplitKey(key int64) (length int, index int64) {
	return int(key / maxTrajIndex), key % maxTrajIndex
}

// tagTrajectory gives the decoded trajectory rec its stream identity:
//
//  1. the canonical length is the maximum leading dimension across the
//     non-scalar fields;
//  2. scalar fields and fields with a leading dimension of 1 are broadcast to
//     the canonical length by repetition;
//  3. all fields must then agree on the length exactly;
//  4. the composite key must be constructible, proving index and length fit
//     their bit budgets;
//  5. FieldIndex and FieldLength are appended, each repeated to the canonical
//     length so they flatten into per-step values.
//
// Each failure mode has a dedicated error type; none are recoverable.
func tagTrajectory(index int64, rec Record) (Record, error) {
	for _, reserved := range []string{FieldIndex, FieldLength} {
		if _, exists := rec[reserved]; exists {
			return nil, &ReservedFieldError{Field: reserved}
		}
	}

	length := 0
	found := false
	for _, t := range rec {
		if n, ok := t.Leading(); ok {
			found = true
			if n > length {
				length = n
			}
		}
	}
	if !found || length == 0 {
		// All-scalar and zero-step trajectories carry no steps to stream;
		// their window could never fill during regrouping.
		return nil, &LengthMismatchError{Canonical: length}
	}

	out := make(Record, len(rec)+2)
	lengths := make(map[string]int, len(rec))
	for name, t := range rec {
		n, ok := t.Leading()
		if !ok || (n == 1 && length != 1) {
			b, err := t.Repeat(length)
			if err != nil {
				return nil, errors.Wrapf(err, "broadcast field %q", name)
			}
			t = b
			n, _ = t.Leading()
		}
		out[name] = t
		lengths[name] = n
	}
	for _, n := range lengths {
		if n != length {
			return nil, &LengthMismatchError{Lengths: lengths, Canonical: length}
		}
	}

	if _, err := ComposeKey(length, index); err != nil {
		return nil, err
	}

	idxTag, err := tensor.ScalarInt64(index).Repeat(length)
	if err != nil {
		return nil, err
	}
	lenTag, err := tensor.ScalarInt64(int64(length)).Repeat(length)
	if err != nil {
		return nil, err
	}
	out[FieldIndex] = idxTag
	out[FieldLength] = lenTag
	return out, nil
}

// splitFrames slices a tagged trajectory into its per-step records. Every
// field shares the same leading dimension after tagging, so each frame is
// just the t-th slice of every field.
func splitFrames(rec Record) ([]Record, error) {
	if len(rec) == 0 {
		return nil, errors.New("cannot flatten a record with no fields")
	}
	length := -1
	for name, t := range rec {
		n, ok := t.Leading()
		if !ok {
			return nil, errors.Errorf("field %q has no leading dimension to flatten", name)
		}
		if length == -1 {
			length = n
		} else if n != length {
			return nil, errors.Errorf("field %q has leading dimension %d, expected %d", name, n, length)
		}
	}
	frames := make([]Record, length)
	for t := 0; t < length; t++ {
		frame := make(Record, len(rec))
		for name, field := range rec {
			step, err := field.Slice(t)
			if err != nil {
				return nil, errors.Wrapf(err, "slice field %q", name)
			}
			frame[name] = step
		}
		frames[t] = frame
	}
	return frames, nil
}

// flatten unbatches trajectories into a flat stream of per-step records.
func flatten(p pipeline[Record], metrics *Metrics) pipeline[Record] {
	return func() (stream[Record], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		var queue []Record
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			for len(queue) == 0 {
				traj, err := up.Next(ctx)
				if err != nil {
					return nil, err
				}
				frames, err := splitFrames(traj)
				if err != nil {
					return nil, err
				}
				queue = frames
			}
			frame := queue[0]
			queue = queue[1:]
			metrics.FramesEmitted.Inc()
			return frame, nil
		}), nil
	}
}

// frameKey recomputes the composite key of the trajectory a frame belongs to
// from its reserved tag fields.
func frameKey(frame Record) (key int64, length int, err error) {
	lenT, ok := frame[FieldLength]
	if !ok {
		return 0, 0, errors.Errorf("frame is missing %q", FieldLength)
	}
	idxT, ok := frame[FieldIndex]
	if !ok {
		return 0, 0, errors.Errorf("frame is missing %q", FieldIndex)
	}
	lenV, err := lenT.ScalarInt64Value()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read %q", FieldLength)
	}
	idxV, err := idxT.ScalarInt64Value()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read %q", FieldIndex)
	}
	key, err = ComposeKey(int(lenV), idxV)
	if err != nil {
		return 0, 0, err
	}
	return key, int(lenV), nil
}
