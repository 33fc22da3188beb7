package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/featurestore/getbytes"
	"gonum.org/v1/gonum/mat"
)

// DefaultFlushThreshold is the staging buffer size used when none is given.
const DefaultFlushThreshold = 1000

// Default array names.
const (
	DefaultPredictorName = "images"
	DefaultLabelName     = "label"
)

type options struct {
	threshold     int
	predictorName string
	labelName     string
	logger        *log.Logger
	info          CreationInfo
}

// Option configures Create.
type Option func(*options)

// WithFlushThreshold sets how many rows are staged in memory before they are written.
func WithFlushThreshold(n int) Option {
	return func(o *options) { o.threshold = n }
}

// WithPredictorName names the feature array.
func WithPredictorName(name string) Option {
	return func(o *options) { o.predictorName = name }
}

// WithLabelName names the label array.
func WithLabelName(name string) Option {
	return func(o *options) { o.labelName = name }
}

// WithLogger makes the Writer log each flush and the final close.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCreationInfo records the program version and data source in the header.
// The creation time is always set by Create.
func WithCreationInfo(info CreationInfo) Option {
	return func(o *options) { o.info = info }
}

// Writer fills a preallocated dataset file in one linear pass. Rows are
// staged in memory and written in blocks of the flush threshold, so the
// caller may hand over batches of any size. A Writer must be used by a
// single goroutine.
type Writer struct {
	path      string
	file      *os.File
	header    *Header
	capacity  int // bytes reserved for the header block
	threshold int
	logger    *log.Logger

	nextIndex int       // first row not yet written
	features  []float64 // staged rows, row-major
	labels    []int64
	flushes   int
	closed    bool
}

// Create makes a new dataset file at path holding rows feature vectors of
// length dim, and returns a Writer for it. The file is created at its final
// size. Create fails if path already exists.
func Create(path string, rows, dim int, opts ...Option) (*Writer, error) {
	if rows <= 0 || dim <= 0 || !shapeFits(rows, dim) {
		return nil, &InvalidDimensionError{Rows: rows, Dim: dim}
	}
	o := options{
		threshold:     DefaultFlushThreshold,
		predictorName: DefaultPredictorName,
		labelName:     DefaultLabelName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.threshold <= 0 {
		return nil, fmt.Errorf("%w: flush threshold %d must be positive", ErrInvalidOption, o.threshold)
	}
	if o.predictorName == "" || o.labelName == "" || o.predictorName == o.labelName {
		return nil, fmt.Errorf("%w: array names '%s' and '%s' must be distinct and non-empty",
			ErrInvalidOption, o.predictorName, o.labelName)
	}

	o.info.CreationTime = time.Now()
	header, capacity, err := newHeader(rows, dim, o.predictorName, o.labelName, o.info,
		ulid.Make().String(), o.threshold)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, &AlreadyExistsError{Path: path, cause: err}
		}
		return nil, err
	}

	w := &Writer{
		path:      path,
		file:      file,
		header:    header,
		capacity:  capacity,
		threshold: o.threshold,
		logger:    o.logger,
		features:  make([]float64, 0, o.threshold*dim),
		labels:    make([]int64, 0, o.threshold),
	}
	if err := w.allocate(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	w.logf("created dataset %s with shape (%d, %d), flush threshold %d", path, rows, dim, o.threshold)
	return w, nil
}

// allocate writes the header and extends the file to its final size.
func (w *Writer) allocate() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.file.Truncate(w.header.FileSize()); err != nil {
		return fmt.Errorf("preallocating %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) writeHeader() error {
	b, err := encodeHeader(w.header, w.capacity)
	if err != nil {
		return err
	}
	if _, err := w.file.WriteAt(b, 0); err != nil {
		return fmt.Errorf("writing header of %s: %w", w.path, err)
	}
	return nil
}

// Accumulate stages a batch of feature vectors and their labels. Whenever
// at least FlushThreshold rows are staged, the oldest FlushThreshold of them
// are written, so after a successful return fewer than FlushThreshold rows
// remain staged. A malformed batch is rejected before anything is staged.
func (w *Writer) Accumulate(features [][]float64, labels []int64) error {
	if w.closed {
		return ErrClosed
	}
	if len(features) != len(labels) {
		return &ShapeMismatchError{Row: -1, Want: len(features), Got: len(labels)}
	}
	dim := w.Dim()
	for i, f := range features {
		if len(f) != dim {
			return &ShapeMismatchError{Row: i, Want: dim, Got: len(f)}
		}
	}
	for _, f := range features {
		w.features = append(w.features, f...)
	}
	w.labels = append(w.labels, labels...)
	return w.drain()
}

// AccumulateDense is Accumulate for a batch held as a matrix with one
// feature vector per row.
func (w *Writer) AccumulateDense(features mat.Matrix, labels []int64) error {
	if w.closed {
		return ErrClosed
	}
	r, c := features.Dims()
	if r != len(labels) {
		return &ShapeMismatchError{Row: -1, Want: r, Got: len(labels)}
	}
	if c != w.Dim() {
		return &ShapeMismatchError{Row: 0, Want: w.Dim(), Got: c}
	}
	start := len(w.features)
	w.features = append(w.features, make([]float64, r*c)...)
	for i := 0; i < r; i++ {
		mat.Row(w.features[start+i*c:start+(i+1)*c], i, features)
	}
	w.labels = append(w.labels, labels...)
	return w.drain()
}

// drain writes threshold-sized blocks while enough rows are staged.
func (w *Writer) drain() error {
	for len(w.labels) >= w.threshold {
		if err := w.write(w.threshold); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every staged row. Flushing an empty buffer does nothing.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	return w.write(len(w.labels))
}

// write stores the oldest n staged rows at the write cursor. If they would
// not fit, nothing is written and the buffer is left as it was.
func (w *Writer) write(n int) error {
	if n == 0 {
		return nil
	}
	if w.nextIndex+n > w.Rows() {
		return &CapacityExceededError{Rows: w.Rows(), NextIndex: w.nextIndex, Pending: n}
	}
	dim := w.Dim()
	pred, lab := w.header.Predictors(), w.header.Labels()

	offset := pred.Offset + int64(w.nextIndex)*int64(dim)*elementSize
	if _, err := w.file.WriteAt(getbytes.Float64sLE(w.features[:n*dim]), offset); err != nil {
		return fmt.Errorf("writing rows [%d, %d) of %s: %w", w.nextIndex, w.nextIndex+n, w.path, err)
	}
	offset = lab.Offset + int64(w.nextIndex)*elementSize
	if _, err := w.file.WriteAt(getbytes.Int64sLE(w.labels[:n]), offset); err != nil {
		return fmt.Errorf("writing labels [%d, %d) of %s: %w", w.nextIndex, w.nextIndex+n, w.path, err)
	}

	w.logf("flushed rows [%d, %d) to %s", w.nextIndex, w.nextIndex+n, w.path)
	w.nextIndex += n
	w.flushes++
	w.features = w.features[:copy(w.features, w.features[n*dim:])]
	w.labels = w.labels[:copy(w.labels, w.labels[n:])]
	return nil
}

// Close writes any staged rows, records the number of rows written in the
// header, and closes the file. The file is closed even when the final flush
// fails. Rows past RowsWritten were never written and read back as zeros.
// Calling Close again returns ErrClosed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	flushErr := w.write(len(w.labels))
	w.header.RowsWritten = w.nextIndex
	w.header.Finalized = true
	headerErr := w.writeHeader()
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.features, w.labels = nil, nil
	if w.nextIndex < w.Rows() {
		w.logf("closed dataset %s with only %d of %d rows written", w.path, w.nextIndex, w.Rows())
	} else {
		w.logf("closed dataset %s, %d rows written in %d flushes", w.path, w.nextIndex, w.flushes)
	}
	return errors.Join(flushErr, headerErr, syncErr, closeErr)
}

func (w *Writer) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// Rows is the dataset's fixed row count N.
func (w *Writer) Rows() int { return w.header.Rows }

// Dim is the length of every feature vector.
func (w *Writer) Dim() int { return w.header.Dim }

// NextIndex is the first row not yet written to the file.
func (w *Writer) NextIndex() int { return w.nextIndex }

// Staged is the number of rows held in memory awaiting a flush.
func (w *Writer) Staged() int { return len(w.labels) }

// FlushThreshold is the staged row count that triggers a write.
func (w *Writer) FlushThreshold() int { return w.threshold }

// Flushes counts the block writes performed so far.
func (w *Writer) Flushes() int { return w.flushes }

// Path is the dataset file name.
func (w *Writer) Path() string { return w.path }

// Header returns a copy of the file header as it currently stands.
func (w *Writer) Header() Header {
	h := *w.header
	h.Arrays = append([]ArrayInfo(nil), w.header.Arrays...)
	return h
}
