// Package visualize projects stored feature vectors to 2D and renders a scatter plot.
package visualize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when there are fewer than two vectors to project.
var ErrInsufficientData = errors.New("need at least 2 vectors to visualize")

// Project2D reduces rows to their first two principal components. Rows must share a
// dimension. When fewer than two components exist the missing axis is zero.
func Project2D(rows [][]float32) ([][2]float64, error) {
	n := len(rows)
	if n < 2 {
		return nil, ErrInsufficientData
	}
	d := len(rows[0])
	if d == 0 {
		return nil, fmt.Errorf("zero-length vectors")
	}

	data := mat.NewDense(n, d, nil)
	for i, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(row), d)
		}
		for j, v := range row {
			data.Set(i, j, float64(v))
		}
	}

	// Centre columns so projections are around the origin.
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, data)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			data.Set(i, j, data.At(i, j)-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, fmt.Errorf("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, k := vecs.Dims()
	if k > 2 {
		k = 2
	}

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, d, 0, k))

	out := make([][2]float64, n)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			out[i][c] = proj.At(i, c)
		}
	}
	return out, nil
}
