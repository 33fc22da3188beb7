package featurestore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npy"
	"github.com/usnistgov/featurestore/getbytes"
	"gonum.org/v1/gonum/mat"
)

// NPYSource reads features computed by an external inference step from a
// numpy .npy file of shape (N, D) and dtype float64, with the labels in a
// second .npy file of shape (N,) and dtype int64. Feature rows are read from
// disk one batch at a time; the labels are loaded up front.
type NPYSource struct {
	featuresFile string
	file         *os.File
	dataOffset   int64
	rows, dim    int
	labels       []int64
	next         int
}

// OpenNPYSource opens the features and labels files and checks that their
// shapes agree.
func OpenNPYSource(featuresFile, labelsFile string) (*NPYSource, error) {
	labels, err := readLabels(labelsFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(featuresFile)
	if err != nil {
		return nil, err
	}
	src := &NPYSource{featuresFile: featuresFile, file: f, labels: labels}
	if err := src.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if src.rows != len(labels) {
		f.Close()
		return nil, fmt.Errorf("%s has %d rows but %s has %d labels",
			featuresFile, src.rows, labelsFile, len(labels))
	}
	return src, nil
}

func readLabels(name string) ([]int64, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []int64
	if err := npyio.Read(f, &labels); err != nil {
		return nil, fmt.Errorf("reading labels from %s: %w", name, err)
	}
	return labels, nil
}

func (s *NPYSource) parseHeader() error {
	r, err := npy.NewReader(s.file)
	if err != nil {
		return fmt.Errorf("npy file '%s': %w", s.featuresFile, err)
	}
	descr := r.Header.Descr
	if descr.Type != "<f8" {
		return fmt.Errorf("npy file '%s' has dtype %s, want <f8", s.featuresFile, descr.Type)
	}
	if descr.Fortran {
		return fmt.Errorf("npy file '%s' is in Fortran order, want C order", s.featuresFile)
	}
	if len(descr.Shape) != 2 || descr.Shape[0] <= 0 || descr.Shape[1] <= 0 {
		return fmt.Errorf("npy file '%s' has shape %v, want (rows, dim)", s.featuresFile, descr.Shape)
	}
	s.rows, s.dim = descr.Shape[0], descr.Shape[1]
	s.dataOffset, err = npyDataOffset(s.file)
	return err
}

// npyDataOffset finds where the array data begin, after the magic, the
// version bytes and the header (whose length field is 2 bytes in format
// version 1 and 4 bytes in versions 2 and 3).
func npyDataOffset(r io.ReaderAt) (int64, error) {
	pre := make([]byte, 12)
	if _, err := r.ReadAt(pre, 0); err != nil {
		return 0, fmt.Errorf("reading npy preamble: %w", err)
	}
	switch major := pre[6]; major {
	case 1:
		return 10 + int64(binary.LittleEndian.Uint16(pre[8:10])), nil
	case 2, 3:
		return 12 + int64(binary.LittleEndian.Uint32(pre[8:12])), nil
	default:
		return 0, fmt.Errorf("unknown npy format version %d", major)
	}
}

func (s *NPYSource) String() string {
	return fmt.Sprintf("npy:%s", s.featuresFile)
}

// Len is the number of rows in the features file.
func (s *NPYSource) Len() int { return s.rows }

// Dim is the length of each feature vector.
func (s *NPYSource) Dim() int { return s.dim }

// Next reads up to n rows from the features file.
func (s *NPYSource) Next(n int) (*mat.Dense, []int64, error) {
	if s.next >= s.rows {
		return nil, nil, io.EOF
	}
	n = min(n, s.rows-s.next)
	buf := make([]byte, n*s.dim*8)
	if _, err := s.file.ReadAt(buf, s.dataOffset+int64(s.next)*int64(s.dim)*8); err != nil {
		return nil, nil, fmt.Errorf("reading rows [%d, %d) of %s: %w", s.next, s.next+n, s.featuresFile, err)
	}
	labels := s.labels[s.next : s.next+n]
	s.next += n
	return mat.NewDense(n, s.dim, getbytes.ToFloat64sLE(buf)), labels, nil
}

// Close closes the features file.
func (s *NPYSource) Close() error {
	return s.file.Close()
}
