package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"github.com/usnistgov/featurestore/getbytes"
	"gonum.org/v1/gonum/mat"
)

// Reader gives read-only access to a dataset file.
type Reader struct {
	file   *os.File
	header *Header
}

// Open returns a Reader for the dataset file at path, or an error if the
// file is not a valid dataset file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	h, _, err := decodeHeader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset file '%s': %w", path, err)
	}
	return &Reader{file: f, header: h}, nil
}

// Close closes the dataset file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Header returns a copy of the file header.
func (r *Reader) Header() Header {
	h := *r.header
	h.Arrays = append([]ArrayInfo(nil), r.header.Arrays...)
	return h
}

// Rows is the allocated row count.
func (r *Reader) Rows() int { return r.header.Rows }

// Dim is the feature vector length.
func (r *Reader) Dim() int { return r.header.Dim }

// RowsWritten is the number of rows the writer stored before closing. It is
// zero for a file whose writer never closed.
func (r *Reader) RowsWritten() int { return r.header.RowsWritten }

// Finalized reports whether the writer closed the file.
func (r *Reader) Finalized() bool { return r.header.Finalized }

// ReadRange returns rows [start, end) as a matrix and a label slice. Any
// allocated row may be read, including rows never written (they are zero).
func (r *Reader) ReadRange(start, end int) (*mat.Dense, []int64, error) {
	if start < 0 || end > r.Rows() || start >= end {
		return nil, nil, fmt.Errorf("row range [%d, %d) invalid for %d rows", start, end, r.Rows())
	}
	n, dim := end-start, r.Dim()
	pred, lab := r.header.Predictors(), r.header.Labels()

	buf := make([]byte, n*dim*elementSize)
	if _, err := r.file.ReadAt(buf, pred.Offset+int64(start)*int64(dim)*elementSize); err != nil {
		return nil, nil, fmt.Errorf("reading %s rows [%d, %d): %w", pred.Name, start, end, err)
	}
	features := mat.NewDense(n, dim, getbytes.ToFloat64sLE(buf))

	buf = make([]byte, n*elementSize)
	if _, err := r.file.ReadAt(buf, lab.Offset+int64(start)*elementSize); err != nil {
		return nil, nil, fmt.Errorf("reading %s rows [%d, %d): %w", lab.Name, start, end, err)
	}
	return features, getbytes.ToInt64sLE(buf), nil
}

// Predictors returns every written feature vector, one per matrix row.
func (r *Reader) Predictors() (*mat.Dense, error) {
	if r.RowsWritten() == 0 {
		return nil, ErrNoRows
	}
	features, _, err := r.ReadRange(0, r.RowsWritten())
	return features, err
}

// Labels returns every written label.
func (r *Reader) Labels() ([]int64, error) {
	if r.RowsWritten() == 0 {
		return nil, ErrNoRows
	}
	_, labels, err := r.ReadRange(0, r.RowsWritten())
	return labels, err
}

// ExportNPY writes the written rows of both arrays to dir as numpy .npy
// files named after the arrays. It returns the two file names.
func (r *Reader) ExportNPY(dir string) (predictorFile, labelFile string, err error) {
	features, err := r.Predictors()
	if err != nil {
		return "", "", err
	}
	labels, err := r.Labels()
	if err != nil {
		return "", "", err
	}
	predictorFile = filepath.Join(dir, r.header.Predictors().Name+".npy")
	labelFile = filepath.Join(dir, r.header.Labels().Name+".npy")
	if err := writeNPY(predictorFile, features); err != nil {
		return "", "", err
	}
	if err := writeNPY(labelFile, labels); err != nil {
		return "", "", err
	}
	return predictorFile, labelFile, nil
}

func writeNPY(name string, val any) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, val); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return f.Close()
}
