package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Create when the destination path is occupied.
	ErrAlreadyExists = errors.New("dataset path already exists")
	// ErrInvalidDimension is returned by Create when the row count or feature dimension is not positive.
	ErrInvalidDimension = errors.New("invalid dataset dimension")
	// ErrShapeMismatch is returned when a batch does not match the dataset shape.
	ErrShapeMismatch = errors.New("batch shape mismatch")
	// ErrCapacityExceeded is returned when a flush would write past the last row.
	ErrCapacityExceeded = errors.New("dataset capacity exceeded")
	// ErrClosed is returned by any operation on a Writer after Close.
	ErrClosed = errors.New("dataset writer is closed")
	// ErrInvalidOption is returned by Create for a bad flush threshold or array name.
	ErrInvalidOption = errors.New("invalid dataset option")
	// ErrBadFormat is returned by Open when the file is not a valid dataset file.
	ErrBadFormat = errors.New("not a valid dataset file")
	// ErrNoRows is returned by a Reader when the dataset holds no written rows.
	ErrNoRows = errors.New("dataset has no written rows")
)

// AlreadyExistsError reports that Create found a file at its destination path.
type AlreadyExistsError struct {
	Path  string
	cause error
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("dataset file '%s' already exists", e.Path)
}

func (e *AlreadyExistsError) Unwrap() []error { return []error{ErrAlreadyExists, e.cause} }

// InvalidDimensionError reports a non-positive (or unrepresentably large) dataset shape.
type InvalidDimensionError struct {
	Rows int
	Dim  int
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid dataset shape (%d, %d): rows and dim must be positive", e.Rows, e.Dim)
}

func (e *InvalidDimensionError) Unwrap() error { return ErrInvalidDimension }

// ShapeMismatchError reports a malformed batch. Row is -1 when the mismatch
// is between the number of feature vectors and the number of labels.
type ShapeMismatchError struct {
	Row  int
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("batch has %d feature vectors but %d labels", e.Want, e.Got)
	}
	return fmt.Sprintf("feature vector %d has length %d, want %d", e.Row, e.Got, e.Want)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// CapacityExceededError reports a flush that would write past row Rows.
type CapacityExceededError struct {
	Rows      int
	NextIndex int
	Pending   int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("flushing %d rows at row %d would exceed dataset capacity of %d rows",
		e.Pending, e.NextIndex, e.Rows)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }
