package topology

import (
	"errors"
	"fmt"
)

// Layer describes how one network layer is spread over the weight engines.
type Layer struct {
	// Streams is the number of weight engines (PEs) fed for this layer.
	Streams int `yaml:"streams"`
	// Weights is the total number of weights of the layer matrix.
	Weights int `yaml:"weights"`
}

// Capacity returns the per-engine weight budget of the layer.
func (l Layer) Capacity() int {
	if l.Streams == 0 {
		return 0
	}
	return l.Weights / l.Streams
}

// Topology is the fixed hardware layout the bitstream was synthesized for.
// It is built once at startup and passed by value; the layer slice is
// owned by the Topology and must not be modified by callers.
type Topology struct {
	Layers         []Layer
	CascadeWidth   int
	FeatureStreams int
	SampleWidth    int
	BatchSize      int
	// SplitLayer is the first layer placed on the output device when the
	// network is split across two cards.
	SplitLayer int
}

// Location identifies the weight file feeding one engine.
type Location struct {
	Layer   int
	Split   int
	Cascade int
}

// WeightFile returns the file name holding the weights of the engine.
func (l Location) WeightFile() string {
	return fmt.Sprintf("Weights%dIn%d_CASC_%d.txt", l.Layer, l.Split, l.Cascade)
}

// Default returns the layout of the three layer feed forward network
// (64x128, 128x64, 64x64) with 32/16/16 weight engines.
func Default() Topology {
	return Topology{
		Layers: []Layer{
			{Streams: 32, Weights: 64 * 128},
			{Streams: 16, Weights: 128 * 64},
			{Streams: 16, Weights: 64 * 64},
		},
		CascadeWidth:   4,
		FeatureStreams: 4,
		SampleWidth:    64,
		BatchSize:      32,
		SplitLayer:     2,
	}
}

// New copies layers into a fresh Topology and validates it.
func New(layers []Layer, cascadeWidth, featureStreams, sampleWidth, batchSize, splitLayer int) (Topology, error) {
	t := Topology{
		Layers:         append([]Layer(nil), layers...),
		CascadeWidth:   cascadeWidth,
		FeatureStreams: featureStreams,
		SampleWidth:    sampleWidth,
		BatchSize:      batchSize,
		SplitLayer:     splitLayer,
	}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Validate checks that the layout is internally consistent.
func (t Topology) Validate() error {
	if len(t.Layers) == 0 {
		return errors.New("topology has no layers")
	}
	if t.CascadeWidth <= 0 {
		return fmt.Errorf("invalid cascade width %d", t.CascadeWidth)
	}
	for i, l := range t.Layers {
		if l.Streams <= 0 || l.Weights <= 0 {
			return fmt.Errorf("layer %d: streams and weights must be positive", i)
		}
		if l.Streams%t.CascadeWidth != 0 {
			return fmt.Errorf("layer %d: %d streams is not a multiple of cascade width %d", i, l.Streams, t.CascadeWidth)
		}
	}
	if t.FeatureStreams <= 0 || t.SampleWidth <= 0 || t.SampleWidth%t.FeatureStreams != 0 {
		return fmt.Errorf("sample width %d must be a positive multiple of %d feature streams", t.SampleWidth, t.FeatureStreams)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size %d", t.BatchSize)
	}
	if t.SplitLayer <= 0 || t.SplitLayer >= len(t.Layers) {
		return fmt.Errorf("split layer %d must leave at least one layer on each device", t.SplitLayer)
	}
	return nil
}

// NumWeightStreams is the total number of weight engines.
func (t Topology) NumWeightStreams() int {
	n := 0
	for _, l := range t.Layers {
		n += l.Streams
	}
	return n
}

// LayerOffset returns the index of the first engine of layer.
func (t Topology) LayerOffset(layer int) int {
	off := 0
	for i := 0; i < layer && i < len(t.Layers); i++ {
		off += t.Layers[i].Streams
	}
	return off
}

// SplitEngine is the first engine index that belongs to the output device.
func (t Topology) SplitEngine() int {
	return t.LayerOffset(t.SplitLayer)
}

// Locate maps an engine index onto its layer, split group and cascade slot.
func (t Topology) Locate(engine int) (Location, error) {
	if engine < 0 {
		return Location{}, fmt.Errorf("engine index %d out of range", engine)
	}
	off := 0
	for layer, l := range t.Layers {
		if engine < off+l.Streams {
			rel := engine - off
			return Location{
				Layer:   layer,
				Split:   rel / t.CascadeWidth,
				Cascade: rel % t.CascadeWidth,
			}, nil
		}
		off += l.Streams
	}
	return Location{}, fmt.Errorf("engine index %d out of range (%d engines)", engine, off)
}

// EngineCapacity returns the weight budget of the engine.
func (t Topology) EngineCapacity(engine int) (int, error) {
	loc, err := t.Locate(engine)
	if err != nil {
		return 0, err
	}
	return t.Layers[loc.Layer].Capacity(), nil
}

// StreamElements is the number of floats each feature stream carries for n
// samples in mapped mode.
func (t Topology) StreamElements(samples int) int {
	return samples * t.SampleWidth / t.FeatureStreams
}

// SampleElements is the number of floats carried for n samples in one stream.
func (t Topology) SampleElements(samples int) int {
	return samples * t.SampleWidth
}
