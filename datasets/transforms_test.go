package datasets

import (
	"context"
	"maps"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/trajstream/tensor"
)

func noiseTransform(rng *rand.Rand) Transform {
	return Apply(func(rec Record) (Record, error) {
		out := maps.Clone(rec)
		out["noise"] = tensor.ScalarFloat32(rng.Float32())
		return out, nil
	})
}

func noiseValues(t *testing.T, recs []Record) []float32 {
	t.Helper()
	out := make([]float32, len(recs))
	for i, rec := range recs {
		vals, err := rec["noise"].Float32s()
		require.NoError(t, err)
		out[i] = vals[0]
	}
	return out
}

func TestMaterializeFreezesRandomness(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{1})},
		{"obs": mustFloat32s(t, []float32{2})},
		{"obs": mustFloat32s(t, []float32{3})},
	}

	rng := rand.New(rand.NewSource(42))
	p := applyTransforms(slicePipeline(recs), []Transform{noiseTransform(rng), Materialize()}, true, 1)

	first := noiseValues(t, drain(t, p))
	second := noiseValues(t, drain(t, p))
	assert.Equal(t, first, second, "materialize must replay the realized values")
}

func TestWithoutMaterializeRandomnessReruns(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{1})},
		{"obs": mustFloat32s(t, []float32{2})},
	}

	rng := rand.New(rand.NewSource(42))
	p := applyTransforms(slicePipeline(recs), []Transform{noiseTransform(rng)}, true, 1)

	first := noiseValues(t, drain(t, p))
	second := noiseValues(t, drain(t, p))
	assert.NotEqual(t, first, second, "each pass must re-run the randomized step")
}

func TestMaterializeRestartsAbandonedFill(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{1})},
		{"obs": mustFloat32s(t, []float32{2})},
	}
	p := applyTransforms(slicePipeline(recs), []Transform{Materialize()}, true, 1)

	// Pull one of two records and walk away mid-fill.
	s, err := p()
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)

	// Re-opening must start the fill over, not fail.
	out := drain(t, p)
	require.Len(t, out, 2)

	// And the completed fill replays as usual.
	out = drain(t, p)
	require.Len(t, out, 2)
}

func TestMaterializeRejectsConcurrentFill(t *testing.T) {
	recs := []Record{
		{"obs": mustFloat32s(t, []float32{1})},
		{"obs": mustFloat32s(t, []float32{2})},
	}
	p := applyTransforms(slicePipeline(recs), []Transform{Materialize()}, true, 1)

	first, err := p()
	require.NoError(t, err)
	_, err = first.Next(context.Background())
	require.NoError(t, err)

	// A second open supersedes the unfinished first pass; it is the
	// abandoned stream that fails if anyone keeps pulling it.
	second, err := p()
	require.NoError(t, err)
	_, err = first.Next(context.Background())
	require.Error(t, err)

	out := drainStream(t, second)
	require.Len(t, out, 2)
}

func TestTransformErrorsPropagateVerbatim(t *testing.T) {
	recs := []Record{{"obs": mustFloat32s(t, []float32{1})}}
	boom := assert.AnError
	p := applyTransforms(slicePipeline(recs), []Transform{
		Apply(func(Record) (Record, error) { return nil, boom }),
	}, true, 1)

	s, err := p()
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, boom, err)
}

func TestParallelMapDeterministicOrder(t *testing.T) {
	var recs []Record
	for i := 0; i < 16; i++ {
		recs = append(recs, Record{"i": tensor.ScalarInt64(int64(i))})
	}

	slow := func(_ context.Context, rec Record) (Record, error) {
		i, err := rec["i"].ScalarInt64Value()
		if err != nil {
			return nil, err
		}
		// Later elements finish first.
		time.Sleep(time.Duration(16-i) * time.Millisecond)
		return rec, nil
	}

	out := drain(t, parallelMap(slicePipeline(recs), slow, 4, true))
	require.Len(t, out, 16)
	for i, rec := range out {
		v, err := rec["i"].ScalarInt64Value()
		require.NoError(t, err)
		assert.Equal(t, int64(i), v, "deterministic mode must preserve input order")
	}
}

func TestParallelMapDeterministicDrainsBeforeError(t *testing.T) {
	var recs []Record
	for i := 0; i < 8; i++ {
		recs = append(recs, Record{"i": tensor.ScalarInt64(int64(i))})
	}

	boom := assert.AnError
	fn := func(_ context.Context, rec Record) (Record, error) {
		i, err := rec["i"].ScalarInt64Value()
		if err != nil {
			return nil, err
		}
		if i == 7 {
			time.Sleep(30 * time.Millisecond)
			return nil, boom
		}
		return rec, nil
	}

	p := parallelMap(slicePipeline(recs), fn, 4, true)
	s, err := p()
	require.NoError(t, err)

	// Every success ahead of the failing element comes out first, in order.
	for i := 0; i < 7; i++ {
		rec, err := s.Next(context.Background())
		require.NoError(t, err)
		v, err := rec["i"].ScalarInt64Value()
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
	_, err = s.Next(context.Background())
	assert.Equal(t, boom, err)
}

func TestFirstPendingError(t *testing.T) {
	errA := assert.AnError
	errB := context.Canceled
	pending := map[uint64]indexed[Record]{
		2: {seq: 2, err: errB},
		3: {seq: 3},
		5: {seq: 5, err: errA},
	}
	assert.Equal(t, errB, firstPendingError(pending))
	assert.NoError(t, firstPendingError(map[uint64]indexed[Record]{4: {seq: 4}}))
	assert.NoError(t, firstPendingError[Record](nil))
}

func TestParallelMapNonDeterministicKeepsAll(t *testing.T) {
	var recs []Record
	for i := 0; i < 16; i++ {
		recs = append(recs, Record{"i": tensor.ScalarInt64(int64(i))})
	}

	ident := func(_ context.Context, rec Record) (Record, error) { return rec, nil }
	out := drain(t, parallelMap(slicePipeline(recs), ident, 4, false))
	require.Len(t, out, 16)

	seen := map[int64]bool{}
	for _, rec := range out {
		v, err := rec["i"].ScalarInt64Value()
		require.NoError(t, err)
		seen[v] = true
	}
	assert.Len(t, seen, 16)
}
