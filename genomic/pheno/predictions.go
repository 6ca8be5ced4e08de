package pheno

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
)

// Prediction is one row of the prediction table.
type Prediction struct {
	FID       string  `csv:"fid"`
	IID       string  `csv:"iid"`
	Value     float64 `csv:"predicted_value"`
	Genetic   float64 `csv:"predicted_genetic"`
	Covariate float64 `csv:"predicted_covariate"`
}

// WritePredictions writes a tab-separated prediction table with a header.
func WritePredictions(path string, preds []Prediction) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	w.Comma = '\t'
	if err := gocsv.MarshalCSV(preds, gocsv.NewSafeCSVWriter(w)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"filename": path, "rows": len(preds)}).Info("wrote predictions")
	return f.Close()
}

// ReadPredictions loads a table written by WritePredictions.
func ReadPredictions(path string) ([]Prediction, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readPredictions(path, rc)
}

func readPredictions(path string, in io.Reader) ([]Prediction, error) {
	r := csv.NewReader(in)
	r.Comma = '\t'
	var out []Prediction
	if err := gocsv.UnmarshalCSV(r, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}
