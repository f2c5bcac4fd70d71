package store

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	pathDepth   = 4
	pathBuckets = 16
)

// quantizer folds a vector into fixed directory components. The projection
// matrix is generated from the collection's persisted seed, so a vector's
// path is stable across processes, rebuilds, and machines.
type quantizer struct {
	proj [][]float32
}

func newQuantizer(seed int64, dims int) *quantizer {
	rng := rand.New(rand.NewSource(seed))
	proj := make([][]float32, pathDepth)
	for i := range proj {
		row := make([]float32, dims)
		for j := range row {
			if rng.Intn(2) == 0 {
				row[j] = 1
			} else {
				row[j] = -1
			}
		}
		proj[i] = row
	}
	return &quantizer{proj: proj}
}

// bucketPath returns the directory components for v: each projection
// coordinate is squashed to (0,1) and bucketed uniformly.
func (q *quantizer) bucketPath(v []float32) []string {
	comps := make([]string, pathDepth)
	for i, row := range q.proj {
		n := len(v)
		if len(row) < n {
			n = len(row)
		}
		var dot float64
		for j := 0; j < n; j++ {
			dot += float64(row[j]) * float64(v[j])
		}
		s := 1.0 / (1.0 + math.Exp(-dot))
		b := int(s * pathBuckets)
		if b >= pathBuckets {
			b = pathBuckets - 1
		}
		comps[i] = fmt.Sprintf("%02x", b)
	}
	return comps
}
