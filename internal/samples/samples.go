package samples

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fxnlabs/streamnn/internal/buffer"
	"github.com/fxnlabs/streamnn/internal/dataio"
	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrInconsistentInput reports feature stream files of unequal length.
var ErrInconsistentInput = errors.New("inconsistent input")

const inputDataFile = "InputData.txt"

// FeatureFile returns the name of the mapped mode feature file of stream i.
func FeatureFile(i int) string {
	return fmt.Sprintf("Features0In_CASC_%d.txt", i)
}

// Inputs holds the device ready feature buffers, sized for the largest
// sample count of the run. Mapped mode has one buffer per feature stream,
// streaming mode a single one.
type Inputs struct {
	Streams []buffer.Buffer[float32]
}

// Replicate builds a buffer of n floats where element i is values[i%len(values)].
func Replicate(values []float32, n int) (buffer.Buffer[float32], error) {
	if len(values) == 0 {
		return buffer.Buffer[float32]{}, fmt.Errorf("%w: no samples to replicate", dataio.ErrNoData)
	}
	out := buffer.Make[float32](n)
	if err := out.Cycle(values); err != nil {
		return buffer.Buffer[float32]{}, err
	}
	return out, nil
}

// LoadMapped reads the pre-sorted per stream feature files for mapped mode.
func LoadMapped(fs afero.Fs, dir string, topo topology.Topology, maxSamples int, log *zap.Logger) (*Inputs, error) {
	perStream := topo.StreamElements(maxSamples)
	streams := make([][]float32, 0, topo.FeatureStreams)
	for i := 0; i < topo.FeatureStreams; i++ {
		path := filepath.Join(dir, FeatureFile(i))
		log.Info("Reading feature stream", zap.String("file", path))
		data, err := dataio.ReadFloats(fs, path)
		if err != nil {
			return nil, err
		}
		streams = append(streams, dataio.Truncate(data, perStream))
	}
	for i, s := range streams {
		if len(s) != len(streams[0]) {
			return nil, fmt.Errorf("%w: feature stream %d has %d values, stream 0 has %d",
				ErrInconsistentInput, i, len(s), len(streams[0]))
		}
	}

	in := &Inputs{}
	for _, s := range streams {
		b, err := Replicate(s, perStream)
		if err != nil {
			return nil, err
		}
		in.Streams = append(in.Streams, b)
	}
	return in, nil
}

// LoadStreaming reads the combined input file for streaming mode. Sorting
// and splitting happens in the data streamer.
func LoadStreaming(fs afero.Fs, dir string, topo topology.Topology, maxSamples int, log *zap.Logger) (*Inputs, error) {
	total := topo.SampleElements(maxSamples)
	path := filepath.Join(dir, inputDataFile)
	log.Info("Reading input data", zap.String("file", path))
	data, err := dataio.ReadFloats(fs, path)
	if err != nil {
		return nil, err
	}
	b, err := Replicate(dataio.Truncate(data, total), total)
	if err != nil {
		return nil, err
	}
	return &Inputs{Streams: []buffer.Buffer[float32]{b}}, nil
}

// Load picks the loader matching the transfer mode.
func Load(fs afero.Fs, dir string, topo topology.Topology, maxSamples int, mapped bool, log *zap.Logger) (*Inputs, error) {
	if mapped {
		return LoadMapped(fs, dir, topo, maxSamples, log)
	}
	return LoadStreaming(fs, dir, topo, maxSamples, log)
}

// Prefix returns a fresh copy of the first n floats of stream i.
func (in *Inputs) Prefix(i, n int) ([]byte, error) {
	if i < 0 || i >= len(in.Streams) {
		return nil, fmt.Errorf("no input stream %d", i)
	}
	b, err := in.Streams[i].Prefix(n)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
