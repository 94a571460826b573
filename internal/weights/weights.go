package weights

import (
	"fmt"
	"path/filepath"

	"github.com/fxnlabs/streamnn/internal/buffer"
	"github.com/fxnlabs/streamnn/internal/dataio"
	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Partition holds one weight vector per weight engine, in engine order.
type Partition struct {
	vectors [][]float32
}

// New wraps already partitioned vectors.
func New(vectors [][]float32) *Partition {
	return &Partition{vectors: vectors}
}

// Load reads the weight file of every engine of topo from dir and truncates
// each vector to the capacity of its engine.
func Load(fs afero.Fs, dir string, topo topology.Topology, log *zap.Logger) (*Partition, error) {
	n := topo.NumWeightStreams()
	vectors := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		loc, err := topo.Locate(i)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, loc.WeightFile())
		log.Debug("Reading weights", zap.Int("engine", i), zap.String("file", path))
		w, err := dataio.ReadFloats(fs, path)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, dataio.Truncate(w, topo.Layers[loc.Layer].Capacity()))
	}
	p := New(vectors)
	maxLen, err := p.MaxLen()
	if err != nil {
		return nil, err
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("%w: every weight file under %s is empty", dataio.ErrNoData, dir)
	}
	log.Info("Weights loaded", zap.Int("engines", p.Len()), zap.Int("max_len", maxLen))
	return p, nil
}

// Len returns the number of engines.
func (p *Partition) Len() int {
	return len(p.vectors)
}

// Vector returns the weights of engine i.
func (p *Partition) Vector(i int) []float32 {
	return p.vectors[i]
}

// MaxLen returns the longest vector length, which is the stride of the
// packed device buffer.
func (p *Partition) MaxLen() (int, error) {
	if len(p.vectors) == 0 {
		return 0, fmt.Errorf("%w: empty weight partition", dataio.ErrNoData)
	}
	m := 0
	for _, v := range p.vectors {
		if len(v) > m {
			m = len(v)
		}
	}
	return m, nil
}

// Slice returns the engines [lo, hi) as a new partition sharing the vectors.
func (p *Partition) Slice(lo, hi int) (*Partition, error) {
	if lo < 0 || hi > len(p.vectors) || lo > hi {
		return nil, fmt.Errorf("engine range [%d,%d) outside partition of %d", lo, hi, len(p.vectors))
	}
	return New(p.vectors[lo:hi]), nil
}

// Split divides the partition at the split layer of topo: the first half
// feeds the input device, the second the output device.
func (p *Partition) Split(topo topology.Topology) (in, out *Partition, err error) {
	boundary := topo.SplitEngine()
	if in, err = p.Slice(0, boundary); err != nil {
		return nil, nil, err
	}
	if out, err = p.Slice(boundary, len(p.vectors)); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// Pack lays all vectors out in one zero padded block, engine i starting at
// element i*MaxLen.
func (p *Partition) Pack() ([]byte, error) {
	stride, err := p.MaxLen()
	if err != nil {
		return nil, err
	}
	if stride == 0 {
		return nil, fmt.Errorf("%w: all %d weight vectors are empty", dataio.ErrNoData, len(p.vectors))
	}
	buf := buffer.Make[float32](len(p.vectors) * stride)
	for i, v := range p.vectors {
		if err := buf.Put(i*stride, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
