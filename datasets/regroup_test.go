package datasets

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/trajstream/tensor"
)

// tagAndFlatten tags each record with its position and splits the result
// into frames, preserving stream order.
func tagAndFlatten(t *testing.T, recs []Record) []Record {
	t.Helper()
	var frames []Record
	for i, rec := range recs {
		tagged, err := tagTrajectory(int64(i), rec)
		require.NoError(t, err)
		split, err := splitFrames(tagged)
		require.NoError(t, err)
		frames = append(frames, split...)
	}
	return frames
}

func TestRegroupIdempotence(t *testing.T) {
	for _, length := range []int{1, 2, 3, 37, 500, 4095} {
		vals := make([]float32, length)
		for i := range vals {
			vals[i] = float32(i)
		}
		rec := Record{
			"obs":  mustFloat32s(t, vals),
			"task": tensor.ScalarString("wipe_table"),
		}
		tagged, err := tagTrajectory(0, rec)
		require.NoError(t, err)
		frames, err := splitFrames(tagged)
		require.NoError(t, err)
		require.Len(t, frames, length)

		out := drain(t, regroup(slicePipeline(frames), nullLogger(), newMetrics(nil)))
		require.Len(t, out, 1, "length %d", length)
		for name, want := range tagged {
			got, ok := out[0][name]
			require.True(t, ok, "field %q", name)
			assert.True(t, got.Equal(want), "field %q at length %d", name, length)
		}
	}
}

func TestFlattenTagSequence(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{0, 1})},
		{"obs": mustFloat32s(t, []float32{2})},
		{"obs": mustFloat32s(t, []float32{3, 4, 5})},
	}
	frames := tagAndFlatten(t, recs)
	require.Len(t, frames, 6)

	var idxs, lens []int64
	for _, frame := range frames {
		i, err := frame[FieldIndex].ScalarInt64Value()
		require.NoError(t, err)
		l, err := frame[FieldLength].ScalarInt64Value()
		require.NoError(t, err)
		idxs = append(idxs, i)
		lens = append(lens, l)
	}
	assert.Equal(t, []int64{0, 0, 1, 2, 2, 2}, idxs)
	assert.Equal(t, []int64{2, 2, 1, 3, 3, 3}, lens)
}

func TestRegroupEndToEnd(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{0, 1})},
		{"obs": mustFloat32s(t, []float32{2})},
		{"obs": mustFloat32s(t, []float32{3, 4, 5})},
	}
	frames := tagAndFlatten(t, recs)

	out := drain(t, regroup(slicePipeline(frames), nullLogger(), newMetrics(nil)))
	require.Len(t, out, 3)

	lengths := map[int64]int{}
	for _, traj := range out {
		idx, err := traj[FieldIndex].Slice(0)
		require.NoError(t, err)
		i, err := idx.ScalarInt64Value()
		require.NoError(t, err)
		n, ok := traj["obs"].Leading()
		require.True(t, ok)
		lengths[i] = n
	}
	assert.Equal(t, map[int64]int{0: 2, 1: 1, 2: 3}, lengths)
}

func TestRegroupInterleaved(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{0, 1})},
		{"obs": mustFloat32s(t, []float32{2, 3})},
	}
	frames := tagAndFlatten(t, recs)
	// Interleave the two trajectories: a0 b0 a1 b1.
	shuffledFrames := []Record{frames[0], frames[2], frames[1], frames[3]}

	out := drain(t, regroup(slicePipeline(shuffledFrames), nullLogger(), newMetrics(nil)))
	require.Len(t, out, 2)
	for _, traj := range out {
		vals, err := traj["obs"].Float32s()
		require.NoError(t, err)
		require.Len(t, vals, 2)
		// Steps of the same trajectory stay together and in order.
		assert.Equal(t, vals[0]+1, vals[1])
	}
}

func TestRegroupDropsIncompleteGroups(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{3, 4, 5})},
	}
	frames := tagAndFlatten(t, recs)
	metrics := newMetrics(nil)

	// Withhold the final frame, as a shard truncated mid-trajectory would.
	out := drain(t, regroup(slicePipeline(frames[:2]), nullLogger(), metrics))
	assert.Empty(t, out)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.IncompleteGroupsDropped))
}
