package dataio

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/afero"
)

var (
	// ErrFileAccess reports a missing or unreadable input file.
	ErrFileAccess = errors.New("file access failed")
	// ErrParse reports a token that is not a valid float.
	ErrParse = errors.New("malformed float value")
	// ErrNoData reports an input set without any values.
	ErrNoData = errors.New("no data")
)

// ReadFloats parses a text file of whitespace separated single precision floats.
func ReadFloats(fs afero.Fs, path string) ([]float32, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileAccess, path, err)
	}
	defer f.Close()

	var values []float32
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		tok := scanner.Text()
		v, err := strconv.ParseFloat(tok, 32)
		// out of range magnitudes saturate to ±Inf
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w: %s: token %d %q", ErrParse, path, len(values), tok)
		}
		values = append(values, float32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileAccess, path, err)
	}
	return values, nil
}

// Truncate caps values at n elements.
func Truncate(values []float32, n int) []float32 {
	if len(values) > n {
		return values[:n]
	}
	return values
}
