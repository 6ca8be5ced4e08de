// Package npy writes and reads float64 arrays in NumPy .npy format.
package npy

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	"github.com/sirupsen/logrus"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Write stores data (row-major) with the given shape.
func Write(path string, data []float64, shape ...int) error {
	size := 1
	for _, s := range shape {
		size *= s
	}
	if size != len(data) {
		return fmt.Errorf("%s: %d values for shape %v", path, len(data), shape)
	}
	output, err := os.Create(path)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<20)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"filename": path,
		"shape":    shape,
		"bytes":    len(data) * 8,
	}).Debugf("writing numpy: %s", path)
	npw.Shape = shape
	if err := npw.WriteFloat64(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return output.Close()
}

// Read loads a float64 array and its shape.
func Read(path string) ([]float64, []int, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if r.ColumnMajor && len(r.Shape) == 2 {
		data = transpose(data, r.Shape[0], r.Shape[1])
	}
	return data, r.Shape, nil
}

func transpose(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = data[j*rows+i]
		}
	}
	return out
}
