// Package dataset reads and writes feature dataset files.
//
// A dataset file stores two fixed-shape arrays that share a row index: a
// float64 predictor array of shape (Rows, Dim) and an int64 label array of
// shape (Rows,). The file layout is
//
//	bytes       meaning
//	0-7         magic "\x93FEATDS\x01"
//	8-11        uint32 little endian, length H of the header block
//	12-(12+H)   JSON header, padded with spaces and one newline so the data start on a 64-byte boundary
//	...         predictor array, row-major float64 little endian
//	...         label array, int64 little endian, starting on a 64-byte boundary
//
// The whole file is allocated when it is created, so rows that were never
// written read back as zeros. The header's RowsWritten and Finalized fields
// are set when the Writer is closed.
package dataset

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"
)

// File format identification.
const (
	FileFormat        = "FEATDS"
	FileFormatVersion = "1.0"
)

// dtype descriptions follow numpy's array-protocol strings.
const (
	DTypeFloat64 = "<f8"
	DTypeInt64   = "<i8"
)

const (
	preambleSize = 12
	alignment    = 64
	headerSlack  = 64
	elementSize  = 8
	// maxHeaderSize guards Open against reading a huge bogus header length.
	maxHeaderSize = 1 << 24
)

var magic = [8]byte{0x93, 'F', 'E', 'A', 'T', 'D', 'S', 0x01}

// Header is the JSON header of a dataset file.
type Header struct {
	FileFormat        string
	FileFormatVersion string
	DatasetID         string
	CreationInfo      CreationInfo
	Rows              int
	Dim               int
	RowsWritten       int
	Finalized         bool
	FlushThreshold    int
	Arrays            []ArrayInfo
}

// CreationInfo records where a dataset file came from.
type CreationInfo struct {
	Version      string
	GitHash      string
	Source       string
	CreationTime time.Time
}

// ArrayInfo describes one array stored in the file.
type ArrayInfo struct {
	Name   string
	DType  string
	Shape  []int
	Offset int64
}

// Bytes returns the size of the array's data block.
func (a ArrayInfo) Bytes() int64 {
	n := int64(elementSize)
	for _, s := range a.Shape {
		n *= int64(s)
	}
	return n
}

// Predictors describes the feature array.
func (h *Header) Predictors() ArrayInfo {
	return h.Arrays[0]
}

// Labels describes the label array.
func (h *Header) Labels() ArrayInfo {
	return h.Arrays[1]
}

// FileSize is the total size of a file with this header.
func (h *Header) FileSize() int64 {
	lab := h.Labels()
	return lab.Offset + lab.Bytes()
}

func align(n int64) int64 {
	return (n + alignment - 1) / alignment * alignment
}

// shapeFits reports whether a (rows, dim) float64 array plus the labels can be addressed in an int64 file offset.
func shapeFits(rows, dim int) bool {
	const limit = math.MaxInt64 / 2 / elementSize
	return int64(rows) <= limit/int64(dim)
}

// newHeader builds the header for a fresh file and lays out the arrays.
// It returns the header and the number of bytes reserved for the header block.
func newHeader(rows, dim int, predictorName, labelName string, info CreationInfo, id string, threshold int) (*Header, int, error) {
	h := &Header{
		FileFormat:        FileFormat,
		FileFormatVersion: FileFormatVersion,
		DatasetID:         id,
		CreationInfo:      info,
		Rows:              rows,
		Dim:               dim,
		FlushThreshold:    threshold,
		Arrays: []ArrayInfo{
			{Name: predictorName, DType: DTypeFloat64, Shape: []int{rows, dim}, Offset: math.MaxInt64},
			{Name: labelName, DType: DTypeInt64, Shape: []int{rows}, Offset: math.MaxInt64},
		},
	}

	// Reserve room for the values written at close.
	h.RowsWritten = rows
	h.Finalized = true
	largest, err := json.MarshalIndent(h, "", "    ")
	if err != nil {
		return nil, 0, err
	}
	dataStart := align(int64(preambleSize + len(largest) + 1 + headerSlack))
	h.RowsWritten = 0
	h.Finalized = false

	h.Arrays[0].Offset = dataStart
	h.Arrays[1].Offset = align(dataStart + h.Arrays[0].Bytes())
	return h, int(dataStart - preambleSize), nil
}

// encodeHeader renders the preamble plus the padded JSON header block.
func encodeHeader(h *Header, capacity int) ([]byte, error) {
	js, err := json.MarshalIndent(h, "", "    ")
	if err != nil {
		return nil, err
	}
	if len(js)+1 > capacity {
		return nil, fmt.Errorf("header needs %d bytes, only %d reserved", len(js)+1, capacity)
	}
	out := make([]byte, preambleSize, preambleSize+capacity)
	copy(out, magic[:])
	binary.LittleEndian.PutUint32(out[8:], uint32(capacity))
	out = append(out, js...)
	out = append(out, bytes.Repeat([]byte{' '}, capacity-len(js)-1)...)
	out = append(out, '\n')
	return out, nil
}

// decodeHeader reads and validates the header of a file of the given size.
// It returns the header and the reserved header capacity.
func decodeHeader(r io.ReaderAt, size int64) (*Header, int, error) {
	pre := make([]byte, preambleSize)
	if _, err := r.ReadAt(pre, 0); err != nil {
		return nil, 0, fmt.Errorf("%w: reading preamble: %w", ErrBadFormat, err)
	}
	if !bytes.Equal(pre[:8], magic[:]) {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrBadFormat, pre[:8])
	}
	capacity := int64(binary.LittleEndian.Uint32(pre[8:]))
	if capacity > maxHeaderSize || preambleSize+capacity > size {
		return nil, 0, fmt.Errorf("%w: header length %d does not fit file of %d bytes", ErrBadFormat, capacity, size)
	}
	block := make([]byte, capacity)
	if _, err := r.ReadAt(block, preambleSize); err != nil {
		return nil, 0, fmt.Errorf("%w: reading header: %w", ErrBadFormat, err)
	}
	h := new(Header)
	if err := json.Unmarshal(bytes.TrimRight(block, " \n"), h); err != nil {
		return nil, 0, fmt.Errorf("%w: parsing header: %w", ErrBadFormat, err)
	}
	if err := h.validate(preambleSize+capacity, size); err != nil {
		return nil, 0, err
	}
	return h, int(capacity), nil
}

func (h *Header) validate(dataStart, size int64) error {
	if h.FileFormat != FileFormat {
		return fmt.Errorf("%w: file format '%s', want '%s'", ErrBadFormat, h.FileFormat, FileFormat)
	}
	if h.Rows <= 0 || h.Dim <= 0 || !shapeFits(h.Rows, h.Dim) {
		return fmt.Errorf("%w: shape (%d, %d)", ErrBadFormat, h.Rows, h.Dim)
	}
	if h.RowsWritten < 0 || h.RowsWritten > h.Rows {
		return fmt.Errorf("%w: %d rows written of %d", ErrBadFormat, h.RowsWritten, h.Rows)
	}
	if len(h.Arrays) != 2 {
		return fmt.Errorf("%w: %d arrays, want 2", ErrBadFormat, len(h.Arrays))
	}
	pred, lab := h.Predictors(), h.Labels()
	if pred.DType != DTypeFloat64 || lab.DType != DTypeInt64 {
		return fmt.Errorf("%w: dtypes %s/%s", ErrBadFormat, pred.DType, lab.DType)
	}
	if len(pred.Shape) != 2 || pred.Shape[0] != h.Rows || pred.Shape[1] != h.Dim ||
		len(lab.Shape) != 1 || lab.Shape[0] != h.Rows {
		return fmt.Errorf("%w: array shapes %v/%v disagree with (%d, %d)", ErrBadFormat,
			pred.Shape, lab.Shape, h.Rows, h.Dim)
	}
	if pred.Offset < dataStart || lab.Offset < pred.Offset+pred.Bytes() || h.FileSize() > size {
		return fmt.Errorf("%w: arrays do not fit file of %d bytes", ErrBadFormat, size)
	}
	return nil
}
