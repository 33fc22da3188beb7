package featurestore

import (
	"fmt"
	"io"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// SimulatedSource is a FeatureSource that synthesizes labelled feature
// vectors. Each class has its own mean vector; rows are that mean plus
// Gaussian noise. The same seed always yields the same rows.
type SimulatedSource struct {
	rows, dim  int
	nclass     int
	noiselevel float64
	means      *mat.Dense
	randsource *rand.Rand
	next       int
}

// NewSimulatedSource creates a source of rows vectors of length dim spread
// over nclass classes.
func NewSimulatedSource(rows, dim, nclass int, noiselevel float64, seed int64) *SimulatedSource {
	ss := &SimulatedSource{
		rows:       rows,
		dim:        dim,
		nclass:     max(nclass, 1),
		noiselevel: noiselevel,
		randsource: rand.New(rand.NewSource(seed)),
	}
	ss.means = mat.NewDense(ss.nclass, dim, nil)
	for c := 0; c < ss.nclass; c++ {
		for j := 0; j < dim; j++ {
			ss.means.Set(c, j, float64(c)+ss.randsource.Float64())
		}
	}
	return ss
}

func (ss *SimulatedSource) String() string {
	return fmt.Sprintf("simulated:%dx%d,%d classes", ss.rows, ss.dim, ss.nclass)
}

// Len is the number of rows the source will deliver.
func (ss *SimulatedSource) Len() int { return ss.rows }

// Dim is the feature vector length.
func (ss *SimulatedSource) Dim() int { return ss.dim }

// Next synthesizes up to n more rows.
func (ss *SimulatedSource) Next(n int) (*mat.Dense, []int64, error) {
	if ss.next >= ss.rows {
		return nil, nil, io.EOF
	}
	n = min(n, ss.rows-ss.next)
	features := mat.NewDense(n, ss.dim, nil)
	labels := make([]int64, n)
	for i := 0; i < n; i++ {
		c := (ss.next + i) % ss.nclass
		labels[i] = int64(c)
		for j := 0; j < ss.dim; j++ {
			features.Set(i, j, ss.means.At(c, j)+ss.noiselevel*ss.randsource.NormFloat64())
		}
	}
	ss.next += n
	return features, labels, nil
}
