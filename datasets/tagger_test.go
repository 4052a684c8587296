package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/trajstream/tensor"
)

func mustFloat32s(t *testing.T, vals []float32, dims ...int) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromFloat32s(vals, dims...)
	require.NoError(t, err)
	return out
}

func TestComposeKeyRoundTrip(t *testing.T) {
	cases := []struct {
		length int
		index  int64
	}{
		{1, 0},
		{1, 1},
		{2, 12345},
		{4095, 0},
		{4095, maxTrajIndex - 1},
		{1, maxTrajIndex - 1},
		{37, 1 << 40},
	}
	for _, c := range cases {
		key, err := ComposeKey(c.length, c.index)
		require.NoError(t, err, "length=%d index=%d", c.length, c.index)

		assert.Equal(t, c.index, key%maxTrajIndex)
		assert.Equal(t, int64(c.length), key/maxTrajIndex)

		length, index := SplitKey(key)
		assert.Equal(t, c.length, length)
		assert.Equal(t, c.index, index)
	}
}

func TestComposeKeyOverflow(t *testing.T) {
	cases := []struct {
		name   string
		length int
		index  int64
	}{
		{"index at 2^51", 1, maxTrajIndex},
		{"length at 2^12", int(maxTrajLen), 0},
		{"negative index", 1, -1},
		{"negative length", -1, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ComposeKey(c.length, c.index)
			var overflow *KeyOverflowError
			require.ErrorAs(t, err, &overflow)
		})
	}
}

func TestTagBroadcastsScalars(t *testing.T) {
	rec := Record{
		"obs":  mustFloat32s(t, []float32{1, 2, 3, 4, 5}),
		"task": tensor.ScalarString("stack_blocks"),
	}
	tagged, err := tagTrajectory(3, rec)
	require.NoError(t, err)

	task := tagged["task"]
	require.Equal(t, []int{5}, task.Dims())
	vals, err := task.Strings()
	require.NoError(t, err)
	for _, v := range vals {
		assert.Equal(t, "stack_blocks", v)
	}

	idx, err := tagged[FieldIndex].Int64s()
	require.NoError(t, err)
	length, err := tagged[FieldLength].Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 3, 3, 3, 3}, idx)
	assert.Equal(t, []int64{5, 5, 5, 5, 5}, length)
}

func TestTagBroadcastsLeadingOne(t *testing.T) {
	rec := Record{
		"obs":  mustFloat32s(t, []float32{1, 2, 3}, 3, 1),
		"goal": mustFloat32s(t, []float32{9, 8}, 1, 2),
	}
	tagged, err := tagTrajectory(0, rec)
	require.NoError(t, err)

	goal := tagged["goal"]
	require.Equal(t, []int{3, 2}, goal.Dims())
	vals, err := goal.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 9, 8, 9, 8}, vals)
}

func TestTagLengthMismatch(t *testing.T) {
	rec := Record{
		"a": mustFloat32s(t, make([]float32, 5)),
		"b": mustFloat32s(t, make([]float32, 7)),
	}
	_, err := tagTrajectory(0, rec)
	var mismatch *LengthMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 7, mismatch.Canonical)
}

func TestTagRejectsAllScalars(t *testing.T) {
	rec := Record{"a": tensor.ScalarInt64(1)}
	_, err := tagTrajectory(0, rec)
	var mismatch *LengthMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestTagRejectsReservedFields(t *testing.T) {
	for _, reserved := range []string{FieldIndex, FieldLength} {
		rec := Record{
			"obs":    mustFloat32s(t, []float32{1, 2}),
			reserved: tensor.ScalarInt64(0),
		}
		_, err := tagTrajectory(0, rec)
		var reservedErr *ReservedFieldError
		require.ErrorAs(t, err, &reservedErr)
		assert.Equal(t, reserved, reservedErr.Field)
	}
}

func TestTagRejectsOverflowingIndex(t *testing.T) {
	rec := Record{"obs": mustFloat32s(t, []float32{1})}
	_, err := tagTrajectory(maxTrajIndex, rec)
	var overflow *KeyOverflowError
	require.ErrorAs(t, err, &overflow)
}

func TestSplitFrames(t *testing.T) {
	rec := Record{
		"obs": mustFloat32s(t, []float32{1, 2, 3, 4}, 2, 2),
	}
	tagged, err := tagTrajectory(5, rec)
	require.NoError(t, err)

	frames, err := splitFrames(tagged)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	for i, frame := range frames {
		idx, err := frame[FieldIndex].ScalarInt64Value()
		require.NoError(t, err)
		assert.Equal(t, int64(5), idx)

		obs := frame["obs"]
		require.Equal(t, []int{2}, obs.Dims())
		vals, err := obs.Float32s()
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(1 + 2*i), float32(2 + 2*i)}, vals)
	}
}

func TestSplitFramesRejectsEmptyRecord(t *testing.T) {
	// A trajectory transform may hand back an empty record; flattening it
	// must fail cleanly instead of panicking.
	_, err := splitFrames(Record{})
	require.Error(t, err)
}
