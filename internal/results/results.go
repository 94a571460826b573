// Package results persists run records and inference outputs.
package results

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/fxnlabs/streamnn/internal/bench"
	"github.com/spf13/afero"
)

const (
	// TimesFile holds every raw run record.
	TimesFile = "time_results.csv"
	// MeansFile holds one mean record per sample size.
	MeansFile = "time_means.csv"

	valuesPerLine = 4
)

var header = []string{"Samples", "Runtime host", "Runtime device", "MM", "Split"}

// OutputFile is the name of the output file of a run over n samples.
func OutputFile(n int) string {
	return fmt.Sprintf("result_%d_samples.txt", n)
}

// Writer writes result files into one directory.
type Writer struct {
	fs  afero.Fs
	dir string
}

// NewWriter creates dir if needed.
func NewWriter(fs afero.Fs, dir string) (*Writer, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &Writer{fs: fs, dir: dir}, nil
}

// WriteTimes writes records as CSV to name inside the output directory.
func (w *Writer) WriteTimes(name string, records []bench.RunRecord) error {
	f, err := w.fs.Create(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.Samples),
			strconv.FormatFloat(r.HostSeconds, 'f', -1, 64),
			strconv.FormatFloat(r.DeviceSeconds, 'f', -1, 64),
			strconv.FormatBool(r.Mapped),
			strconv.FormatBool(r.Split),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

// WriteOutput writes the output of a run over n samples, four values per
// line. Values that do not fill a last line are dropped.
func (w *Writer) WriteOutput(n int, values []float32) error {
	f, err := w.fs.Create(filepath.Join(w.dir, OutputFile(n)))
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for i := 0; i+valuesPerLine <= len(values); i += valuesPerLine {
		for j, v := range values[i : i+valuesPerLine] {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
