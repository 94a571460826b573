package samples

import (
	"runtime"
	"testing"

	"github.com/fxnlabs/streamnn/fixtures"
	"github.com/fxnlabs/streamnn/internal/buffer"
	"github.com/fxnlabs/streamnn/internal/dataio"
	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReplicate(t *testing.T) {
	t.Run("cyclic", func(t *testing.T) {
		src := []float32{1, 2, 3}
		b, err := Replicate(src, 8)
		require.NoError(t, err)
		vals := b.Values()
		require.Len(t, vals, 8)
		for i, v := range vals {
			assert.Equal(t, src[i%len(src)], v, "index %d", i)
		}
	})

	t.Run("multiple of source length repeats exactly", func(t *testing.T) {
		src := fixtures.Ramp(5, 0.5, 0.25)
		b, err := Replicate(src, 15)
		require.NoError(t, err)
		var want []float32
		for i := 0; i < 3; i++ {
			want = append(want, src...)
		}
		assert.Equal(t, want, b.Values())
	})

	t.Run("shorter target truncates", func(t *testing.T) {
		b, err := Replicate([]float32{1, 2, 3, 4}, 2)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, b.Values())
	})

	t.Run("empty source", func(t *testing.T) {
		_, err := Replicate(nil, 4)
		assert.ErrorIs(t, err, dataio.ErrNoData)
	})
}

func TestReplicateBuildsInPlace(t *testing.T) {
	const n = 16 << 20
	payload := uint64(n * 4)
	src := make([]float32, 4096)
	for i := range src {
		src[i] = float32(i)
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	b, err := Replicate(src, n)
	runtime.ReadMemStats(&after)
	require.NoError(t, err)

	assert.Equal(t, n, b.Len())
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, payload+payload/4)

	raw := b.Bytes()
	last, err := buffer.Float32s(raw[len(raw)-4:])
	require.NoError(t, err)
	assert.Equal(t, src[(n-1)%len(src)], last[0])
}

func TestLoadMapped(t *testing.T) {
	topo := topology.Default()
	log := zap.NewNop()

	t.Run("equal streams", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		streams := [][]float32{
			fixtures.Ramp(16, 0, 1),
			fixtures.Ramp(16, 100, 1),
			fixtures.Ramp(16, 200, 1),
			fixtures.Ramp(16, 300, 1),
		}
		require.NoError(t, fixtures.WriteFeatureFiles(fs, "in", streams))

		in, err := LoadMapped(fs, "in", topo, 32, log)
		require.NoError(t, err)
		require.Len(t, in.Streams, 4)
		for i, s := range in.Streams {
			// 32 samples * 64 features / 4 streams
			require.Equal(t, 512, s.Len())
			vals := s.Values()
			assert.Equal(t, streams[i][0], vals[0])
			assert.Equal(t, streams[i][3], vals[16+3])
		}
	})

	t.Run("truncated to max samples", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		streams := make([][]float32, 4)
		for i := range streams {
			streams[i] = fixtures.Ramp(600, float32(i), 1)
		}
		require.NoError(t, fixtures.WriteFeatureFiles(fs, "", streams))

		in, err := LoadMapped(fs, "", topo, 32, log)
		require.NoError(t, err)
		vals := in.Streams[0].Values()
		assert.Len(t, vals, 512)
		assert.Equal(t, float32(511), vals[511])
	})

	t.Run("unequal streams", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		streams := [][]float32{
			fixtures.Ramp(16, 0, 1),
			fixtures.Ramp(16, 0, 1),
			fixtures.Ramp(12, 0, 1),
			fixtures.Ramp(16, 0, 1),
		}
		require.NoError(t, fixtures.WriteFeatureFiles(fs, "", streams))

		in, err := LoadMapped(fs, "", topo, 32, log)
		assert.ErrorIs(t, err, ErrInconsistentInput)
		assert.Nil(t, in)
	})

	t.Run("missing stream", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fixtures.WriteFeatureFiles(fs, "", [][]float32{{1}, {1}}))
		_, err := LoadMapped(fs, "", topo, 32, log)
		assert.ErrorIs(t, err, dataio.ErrFileAccess)
	})
}

func TestLoadStreaming(t *testing.T) {
	topo := topology.Default()
	log := zap.NewNop()

	t.Run("replicates short file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fixtures.WriteInputData(fs, "", fixtures.Ramp(100, 0, 1)))

		in, err := LoadStreaming(fs, "", topo, 64, log)
		require.NoError(t, err)
		require.Len(t, in.Streams, 1)
		vals := in.Streams[0].Values()
		require.Len(t, vals, 4096)
		assert.Equal(t, float32(0), vals[100])
		assert.Equal(t, float32(95), vals[4095])
	})

	t.Run("empty file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "InputData.txt", []byte("\n"), 0o644))
		_, err := LoadStreaming(fs, "", topo, 64, log)
		assert.ErrorIs(t, err, dataio.ErrNoData)
	})
}

func TestLoadSelectsMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fixtures.WriteInputData(fs, "", fixtures.Ramp(64, 0, 1)))
	in, err := Load(fs, "", topology.Default(), 32, false, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, in.Streams, 1)

	_, err = Load(fs, "", topology.Default(), 32, true, zap.NewNop())
	assert.ErrorIs(t, err, dataio.ErrFileAccess)
}

func TestPrefix(t *testing.T) {
	in := &Inputs{Streams: []buffer.Buffer[float32]{buffer.From([]float32{1, 2, 3, 4})}}
	raw, err := in.Prefix(0, 2)
	require.NoError(t, err)
	vals, err := buffer.Float32s(raw)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vals)

	_, err = in.Prefix(1, 2)
	assert.Error(t, err)
	_, err = in.Prefix(0, 5)
	assert.Error(t, err)
}
