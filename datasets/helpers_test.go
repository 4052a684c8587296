package datasets

import (
	"context"
	"io"
	"maps"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func nullLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// slicePipeline re-opens over a fixed record slice; each element is handed
// out as a fresh map so ownership matches a real stream.
func slicePipeline(recs []Record) pipeline[Record] {
	return func() (stream[Record], error) {
		i := 0
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			if i >= len(recs) {
				return nil, io.EOF
			}
			rec := maps.Clone(recs[i])
			i++
			return rec, nil
		}), nil
	}
}

// drain pulls a pipeline to exhaustion.
func drain(t *testing.T, p pipeline[Record]) []Record {
	t.Helper()
	s, err := p()
	require.NoError(t, err)
	return drainStream(t, s)
}

func drainStream(t *testing.T, s stream[Record]) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}
