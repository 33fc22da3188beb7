// Package featurestore packs feature vectors produced by an external
// inference step into a dataset file for later training of a classifier.
package featurestore

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/usnistgov/featurestore/dataset"
	"gonum.org/v1/gonum/mat"
)

// FeatureSource supplies labelled feature vectors in batches. Len must be
// known before the first call to Next, because the dataset is allocated at
// its final size.
type FeatureSource interface {
	Len() int // total number of rows the source will deliver
	Dim() int // length of every feature vector

	// Next returns up to n rows, one feature vector per matrix row, with
	// their labels. It returns io.EOF once every row has been delivered.
	Next(n int) (*mat.Dense, []int64, error)
}

// Summary describes a finished extraction run.
type Summary struct {
	Output   string
	Rows     int
	Dim      int
	Batches  int
	Flushes  int
	Duration time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("wrote %d rows of dimension %d to %s in %d batches, %d flushes, %v",
		s.Rows, s.Dim, s.Output, s.Batches, s.Flushes, s.Duration)
}

// Extract copies every row of src into a new dataset file described by cfg.
// It stops at the first error. The dataset file is always closed, and is
// left with however many rows were written before the error.
func Extract(src FeatureSource, cfg Config) (Summary, error) {
	summary := Summary{Output: cfg.Output, Dim: src.Dim()}
	if err := cfg.Validate(); err != nil {
		return summary, err
	}
	tStart := time.Now()

	opts := append(cfg.writerOptions(),
		dataset.WithLogger(UpdateLogger),
		dataset.WithCreationInfo(dataset.CreationInfo{
			Version: Build.Version,
			GitHash: Build.Githash,
			Source:  sourceName(src),
		}))
	w, err := dataset.Create(cfg.Output, src.Len(), src.Dim(), opts...)
	if err != nil {
		return summary, err
	}

	err = fill(w, src, cfg.BatchSize, &summary)
	closeErr := w.Close()
	summary.Rows = w.NextIndex()
	summary.Flushes = w.Flushes()
	summary.Duration = time.Since(tStart)
	if err = errors.Join(err, closeErr); err != nil {
		ProblemLogger.Printf("extraction to %s failed after %d rows: %v", cfg.Output, summary.Rows, err)
		return summary, err
	}
	if summary.Rows < src.Len() {
		err = fmt.Errorf("source delivered %d of %d promised rows", summary.Rows, src.Len())
		ProblemLogger.Printf("extraction to %s: %v", cfg.Output, err)
		return summary, err
	}
	UpdateLogger.Println(summary)
	return summary, nil
}

func fill(w *dataset.Writer, src FeatureSource, batchSize int, summary *Summary) error {
	for {
		features, labels, err := src.Next(batchSize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading batch %d: %w", summary.Batches, err)
		}
		if err := w.AccumulateDense(features, labels); err != nil {
			return fmt.Errorf("storing batch %d: %w", summary.Batches, err)
		}
		summary.Batches++
	}
}

func sourceName(src FeatureSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}
