// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var ErrDimensionMismatch = errors.New("matrix shape does not match fitted projection")

// SparseRandomProjection reduces the number of columns of a matrix by
// multiplying it with a sparse random matrix (Li, Hastie and Church,
// "Very sparse random projections", 2006).
type SparseRandomProjection struct {
	Components int
	// Probability of a non-zero entry. Zero means 1/sqrt(input
	// columns).
	Density float64
	Rand    *rand.Rand

	inputDims  int
	components *mat.Dense // inputDims x Components
}

// Fit draws a projection matrix for inputs with the same number of
// columns as m.
func (p *SparseRandomProjection) Fit(m mat.Matrix) error {
	_, cols := m.Dims()
	if cols == 0 {
		return fmt.Errorf("%w: no input columns", ErrDimensionMismatch)
	}
	if p.Components < 1 {
		return fmt.Errorf("projection components %d < 1", p.Components)
	}
	density := p.Density
	if density <= 0 {
		density = 1 / math.Sqrt(float64(cols))
	}
	if density > 1 {
		return fmt.Errorf("projection density %f > 1", density)
	}
	scale := math.Sqrt(1/density) / math.Sqrt(float64(p.Components))
	data := make([]float64, cols*p.Components)
	nonzero := 0
	for i := range data {
		if u := p.Rand.Float64(); u < density/2 {
			data[i] = -scale
			nonzero++
		} else if u < density {
			data[i] = scale
			nonzero++
		}
	}
	p.inputDims = cols
	p.components = mat.NewDense(cols, p.Components, data)
	log.Infof("random projection: %d -> %d dimensions, density %f, %d non-zero entries", cols, p.Components, density, nonzero)
	return nil
}

// Transform projects m, which must have the number of columns seen by
// Fit.
func (p *SparseRandomProjection) Transform(m mat.Matrix) (*mat.Dense, error) {
	if p.components == nil {
		return nil, errors.New("random projection has not been fitted")
	}
	rows, cols := m.Dims()
	if cols != p.inputDims {
		return nil, fmt.Errorf("%w: %d columns, fitted with %d", ErrDimensionMismatch, cols, p.inputDims)
	}
	out := mat.NewDense(rows, p.Components, nil)
	out.Mul(m, p.components)
	return out, nil
}
