package fixtures

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fxnlabs/streamnn/internal/topology"
	"github.com/spf13/afero"
)

// FormatFloats renders values the way the weight and feature files store them.
func FormatFloats(values []float32) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			if i%8 == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Ramp returns n values base, base+step, ...
func Ramp(n int, base, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = base + float32(i)*step
	}
	return out
}

// WriteWeightFiles writes one weight file per engine of topo into dir. Engine
// i gets count(i) values starting at i*1000.
func WriteWeightFiles(fs afero.Fs, dir string, topo topology.Topology, count func(engine int) int) error {
	for i := 0; i < topo.NumWeightStreams(); i++ {
		loc, err := topo.Locate(i)
		if err != nil {
			return err
		}
		vals := Ramp(count(i), float32(i*1000), 1)
		if err := afero.WriteFile(fs, filepath.Join(dir, loc.WeightFile()), []byte(FormatFloats(vals)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// FullWeights sizes every engine file to exactly its capacity.
func FullWeights(topo topology.Topology) func(int) int {
	return func(engine int) int {
		c, _ := topo.EngineCapacity(engine)
		return c
	}
}

// WriteFeatureFiles writes the per stream feature files used in mapped mode.
func WriteFeatureFiles(fs afero.Fs, dir string, streams [][]float32) error {
	for i, s := range streams {
		name := filepath.Join(dir, fmt.Sprintf("Features0In_CASC_%d.txt", i))
		if err := afero.WriteFile(fs, name, []byte(FormatFloats(s)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// WriteInputData writes the combined streaming mode input file.
func WriteInputData(fs afero.Fs, dir string, values []float32) error {
	return afero.WriteFile(fs, filepath.Join(dir, "InputData.txt"), []byte(FormatFloats(values)), 0o644)
}
