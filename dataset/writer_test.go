package dataset

import (
	"bytes"
	"errors"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// makeRows returns n rows numbered from start. Row r has features
// r*dim, r*dim+1, ... and label 100+r.
func makeRows(start, n, dim int) ([][]float64, []int64) {
	features := make([][]float64, n)
	labels := make([]int64, n)
	for i := range features {
		r := start + i
		features[i] = make([]float64, dim)
		for j := range features[i] {
			features[i][j] = float64(r*dim + j)
		}
		labels[i] = int64(100 + r)
	}
	return features, labels
}

// checkRows verifies that rows [0, n) of the file at path hold makeRows(0, n, dim).
func checkRows(t *testing.T, path string, n int) {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	features, labels, err := r.ReadRange(0, n)
	require.NoError(t, err)
	wantF, wantL := makeRows(0, n, r.Dim())
	for i := range wantF {
		assert.Equal(t, wantF[i], mat.Row(nil, i, features), "row %d features", i)
	}
	assert.Equal(t, wantL, labels)
}

func TestCreateAllocatesShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 5, 3)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 5, w.Rows())
	assert.Equal(t, 3, w.Dim())
	assert.Equal(t, 0, w.NextIndex())
	assert.Equal(t, DefaultFlushThreshold, w.FlushThreshold())

	h := w.Header()
	assert.Equal(t, []int{5, 3}, h.Predictors().Shape)
	assert.Equal(t, []int{5}, h.Labels().Shape)
	assert.Equal(t, DefaultPredictorName, h.Predictors().Name)
	assert.Equal(t, DefaultLabelName, h.Labels().Name)
	assert.Zero(t, h.Predictors().Offset%alignment)
	assert.Zero(t, h.Labels().Offset%alignment)
	assert.NotEmpty(t, h.DatasetID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, h.FileSize(), info.Size())

	// An independent reader sees the full shape before any row is written.
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 5, r.Rows())
	assert.Equal(t, 3, r.Dim())
	assert.False(t, r.Finalized())
	features, labels, err := r.ReadRange(0, 5)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(5, 3, nil), features))
	assert.Equal(t, make([]int64, 5), labels)
}

func TestFlushScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 10, 4, WithFlushThreshold(3))
	require.NoError(t, err)

	f, l := makeRows(0, 5, 4)
	require.NoError(t, w.Accumulate(f, l))
	assert.Equal(t, 1, w.Flushes())
	assert.Equal(t, 3, w.NextIndex())
	assert.Equal(t, 2, w.Staged())

	f, l = makeRows(5, 5, 4)
	require.NoError(t, w.Accumulate(f, l))
	assert.Equal(t, 3, w.Flushes())
	assert.Equal(t, 9, w.NextIndex())
	assert.Equal(t, 1, w.Staged())

	require.NoError(t, w.Close())
	assert.Equal(t, 4, w.Flushes())
	assert.Equal(t, 10, w.NextIndex())
	assert.Equal(t, 0, w.Staged())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Finalized())
	assert.Equal(t, 10, r.RowsWritten())
	checkRows(t, path, 10)
}

func TestEagerFlushInvariant(t *testing.T) {
	const rows, dim, threshold = 500, 3, 7
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, rows, dim, WithFlushThreshold(threshold))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(12345))
	for next := 0; next < rows; {
		n := rng.Intn(20)
		if next+n > rows {
			n = rows - next
		}
		f, l := makeRows(next, n, dim)
		before := w.Staged()
		require.NoError(t, w.Accumulate(f, l))
		assert.Less(t, w.Staged(), threshold)
		assert.Equal(t, next+n, w.NextIndex()+w.Staged())
		assert.Equal(t, (before+n)%threshold, w.Staged())
		next += n
	}
	require.NoError(t, w.Close())
	checkRows(t, path, rows)
}

func TestAccumulateDense(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 6, 2, WithFlushThreshold(4))
	require.NoError(t, err)

	f, l := makeRows(0, 6, 2)
	m := mat.NewDense(6, 2, nil)
	for i := range f {
		m.SetRow(i, f[i])
	}
	require.NoError(t, w.AccumulateDense(m.Slice(0, 3, 0, 2), l[:3]))
	assert.Equal(t, 3, w.Staged())
	require.NoError(t, w.AccumulateDense(m.Slice(3, 6, 0, 2), l[3:]))
	assert.Equal(t, 4, w.NextIndex())
	assert.Equal(t, 2, w.Staged())

	err = w.AccumulateDense(mat.NewDense(2, 3, nil), []int64{1, 2})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	err = w.AccumulateDense(mat.NewDense(2, 2, nil), []int64{1})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	require.NoError(t, w.Close())
	checkRows(t, path, 6)
}

func TestShapeMismatchLeavesStateUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 10, 4, WithFlushThreshold(3))
	require.NoError(t, err)
	defer w.Close()

	f, l := makeRows(0, 4, 4)
	require.NoError(t, w.Accumulate(f, l))
	require.Equal(t, 3, w.NextIndex())
	require.Equal(t, 1, w.Staged())

	f, l = makeRows(4, 2, 4)
	f[1] = append(f[1], 99)
	err = w.Accumulate(f, l)
	var sme *ShapeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 1, sme.Row)
	assert.Equal(t, 4, sme.Want)
	assert.Equal(t, 5, sme.Got)
	assert.Equal(t, 3, w.NextIndex())
	assert.Equal(t, 1, w.Staged())

	f, _ = makeRows(4, 2, 4)
	err = w.Accumulate(f, []int64{1})
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, -1, sme.Row)
	assert.Equal(t, 3, w.NextIndex())
	assert.Equal(t, 1, w.Staged())

	// The corrected batch is accepted.
	f, l = makeRows(4, 2, 4)
	require.NoError(t, w.Accumulate(f, l))
	assert.Equal(t, 6, w.NextIndex())
	assert.Equal(t, 0, w.Staged())
}

func TestCapacityExceededAtClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 10, 4, WithFlushThreshold(3))
	require.NoError(t, err)

	f, l := makeRows(0, 11, 4)
	require.NoError(t, w.Accumulate(f, l))
	assert.Equal(t, 9, w.NextIndex())
	assert.Equal(t, 2, w.Staged())

	err = w.Flush()
	var cee *CapacityExceededError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, 10, cee.Rows)
	assert.Equal(t, 9, cee.NextIndex)
	assert.Equal(t, 2, cee.Pending)
	assert.Equal(t, 9, w.NextIndex())
	assert.Equal(t, 2, w.Staged())

	err = w.Close()
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Finalized())
	assert.Equal(t, 9, r.RowsWritten())
	checkRows(t, path, 9)
	_, labels, err := r.ReadRange(9, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, labels)
}

func TestCapacityExceededDuringAccumulate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 4, 2, WithFlushThreshold(3))
	require.NoError(t, err)

	f, l := makeRows(0, 6, 2)
	err = w.Accumulate(f, l)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 3, w.NextIndex())
	assert.Equal(t, 3, w.Staged())
	assert.ErrorIs(t, w.Close(), ErrCapacityExceeded)
	checkRows(t, path, 3)
}

func TestCreateExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 3, 2)
	require.NoError(t, err)
	f, l := makeRows(0, 3, 2)
	require.NoError(t, w.Accumulate(f, l))
	require.NoError(t, w.Close())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = Create(path, 3, 2)
	var aee *AlreadyExistsError
	require.ErrorAs(t, err, &aee)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, path, aee.Path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after), "existing file was modified")
}

func TestCreateInvalid(t *testing.T) {
	dir := t.TempDir()
	var shapetests = []struct {
		rows, dim int
	}{
		{0, 4}, {4, 0}, {-1, 4}, {4, -3}, {0, 0},
	}
	for _, st := range shapetests {
		path := filepath.Join(dir, "bad.ds")
		_, err := Create(path, st.rows, st.dim)
		var ide *InvalidDimensionError
		if assert.ErrorAs(t, err, &ide, "Create(%d, %d)", st.rows, st.dim) {
			assert.Equal(t, st.rows, ide.Rows)
			assert.Equal(t, st.dim, ide.Dim)
		}
		assert.NoFileExists(t, path)
	}

	path := filepath.Join(dir, "opts.ds")
	_, err := Create(path, 4, 4, WithFlushThreshold(0))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = Create(path, 4, 4, WithPredictorName("x"), WithLabelName("x"))
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = Create(path, 4, 4, WithLabelName(""))
	assert.ErrorIs(t, err, ErrInvalidOption)
	assert.NoFileExists(t, path)
}

func TestClosedWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 3, 2)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, l := makeRows(0, 1, 2)
	assert.ErrorIs(t, w.Accumulate(f, l), ErrClosed)
	assert.ErrorIs(t, w.AccumulateDense(mat.NewDense(1, 2, nil), l), ErrClosed)
	assert.ErrorIs(t, w.Flush(), ErrClosed)
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestCloseWithEmptyBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 6, 2, WithFlushThreshold(3))
	require.NoError(t, err)
	f, l := makeRows(0, 6, 2)
	require.NoError(t, w.Accumulate(f, l))
	require.Equal(t, 0, w.Staged())
	require.Equal(t, 2, w.Flushes())

	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Flushes())
	checkRows(t, path, 6)
}

func TestShortDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 8, 2, WithFlushThreshold(100))
	require.NoError(t, err)
	f, l := makeRows(0, 5, 2)
	require.NoError(t, w.Accumulate(f, l))
	assert.Equal(t, 0, w.NextIndex())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 8, r.Rows())
	assert.Equal(t, 5, r.RowsWritten())
	labels, err := r.Labels()
	require.NoError(t, err)
	assert.Len(t, labels, 5)
	_, tail, err := r.ReadRange(5, 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, tail)
}

func TestWriterLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	path := filepath.Join(t.TempDir(), "features.ds")
	w, err := Create(path, 4, 1, WithFlushThreshold(2), WithLogger(logger),
		WithPredictorName("features"), WithLabelName("class"),
		WithCreationInfo(CreationInfo{Version: "9.9", Source: "unit test"}))
	require.NoError(t, err)
	f, l := makeRows(0, 4, 1)
	require.NoError(t, w.Accumulate(f, l))
	require.NoError(t, w.Close())

	out := buf.String()
	assert.Contains(t, out, "flushed rows [0, 2)")
	assert.Contains(t, out, "flushed rows [2, 4)")
	assert.Contains(t, out, "4 rows written in 2 flushes")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	h := r.Header()
	assert.Equal(t, "features", h.Predictors().Name)
	assert.Equal(t, "class", h.Labels().Name)
	assert.Equal(t, "9.9", h.CreationInfo.Version)
	assert.Equal(t, "unit test", h.CreationInfo.Source)
	assert.False(t, h.CreationInfo.CreationTime.IsZero())
	assert.Equal(t, 2, h.FlushThreshold)
}

func TestErrorMessages(t *testing.T) {
	var errtests = []struct {
		err  error
		want string
	}{
		{&ShapeMismatchError{Row: -1, Want: 3, Got: 2}, "batch has 3 feature vectors but 2 labels"},
		{&ShapeMismatchError{Row: 2, Want: 4, Got: 5}, "feature vector 2 has length 5, want 4"},
		{&CapacityExceededError{Rows: 10, NextIndex: 9, Pending: 2}, "flushing 2 rows at row 9 would exceed dataset capacity of 10 rows"},
		{&InvalidDimensionError{Rows: 0, Dim: 4}, "invalid dataset shape (0, 4): rows and dim must be positive"},
	}
	for _, et := range errtests {
		assert.Equal(t, et.want, et.err.Error())
	}
	assert.True(t, errors.Is(&AlreadyExistsError{Path: "x", cause: os.ErrExist}, os.ErrExist))
}
