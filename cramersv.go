// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CramersV measures the association between two nominal variables
// observed on the same individuals. It is 1 if both variables are
// constant and 0 if exactly one is.
func CramersV(a, b []int) float64 {
	v, _ := cramersV(crossTab(a, b, nil))
	return v
}

// crossTab returns the contingency table of a and b, with one row
// (column) per distinct value of a (b) in order of first
// appearance. If weights is non-nil, pair i counts weights[i] times
// and zero-weight pairs are ignored. It returns nil if there are no
// pairs.
func crossTab(a, b []int, weights []float64) *mat.Dense {
	rowOf, colOf := map[int]int{}, map[int]int{}
	for i := range a {
		if weights != nil && weights[i] == 0 {
			continue
		}
		if _, ok := rowOf[a[i]]; !ok {
			rowOf[a[i]] = len(rowOf)
		}
		if _, ok := colOf[b[i]]; !ok {
			colOf[b[i]] = len(colOf)
		}
	}
	if len(rowOf) == 0 {
		return nil
	}
	t := mat.NewDense(len(rowOf), len(colOf), nil)
	for i := range a {
		w := 1.0
		if weights != nil {
			w = weights[i]
			if w == 0 {
				continue
			}
		}
		r, c := rowOf[a[i]], colOf[b[i]]
		t.Set(r, c, t.At(r, c)+w)
	}
	return t
}

// cramersV returns Cramér's V for a contingency table without empty
// rows or columns, along with the chi-square test p-value.
func cramersV(t *mat.Dense) (v, p float64) {
	if t == nil {
		return 0, 1
	}
	rows, cols := t.Dims()
	if rows == 1 && cols == 1 {
		return 1, 1
	} else if rows == 1 || cols == 1 {
		return 0, 1
	}
	rowSums := make([]float64, rows)
	colSums := make([]float64, cols)
	n := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x := t.At(i, j)
			rowSums[i] += x
			colSums[j] += x
			n += x
		}
	}
	chi2 := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			expect := rowSums[i] * colSums[j] / n
			d := t.At(i, j) - expect
			chi2 += d * d / expect
		}
	}
	minDim := rows
	if cols < minDim {
		minDim = cols
	}
	v = math.Sqrt(chi2 / n / float64(minDim-1))
	p = distuv.ChiSquared{K: float64((rows - 1) * (cols - 1))}.Survival(chi2)
	return v, p
}

// genotypeCodes converts a variant's feature columns back to one
// nominal value per row: the 1-based position of the non-zero column
// among cols (weighted by its value), or 0 if all are zero.
func genotypeCodes(x mat.Matrix, cols []int) []int {
	rows, _ := x.Dims()
	codes := make([]int, rows)
	for i := range codes {
		code := 0.0
		for k, col := range cols {
			code += x.At(i, col) * float64(k+1)
		}
		codes[i] = int(math.Round(code))
	}
	return codes
}

// alleleTable is the population-by-allele table for a count-encoded
// variant: each row contributes its allele counts to its population's
// row.
func alleleTable(x mat.Matrix, cols []int, pops []int) *mat.Dense {
	var a, b []int
	var w []float64
	for i, pop := range pops {
		for k, col := range cols {
			a = append(a, pop)
			b = append(b, k)
			w = append(w, x.At(i, col))
		}
	}
	return crossTab(a, b, w)
}

// CramersVScreen scores each column by Cramér's V between its values
// and the outcome.
type CramersVScreen struct {
	importances []float64
}

func (cs *CramersVScreen) Fit(x mat.Matrix, y []bool) error {
	if err := checkOutcomes(x, y); err != nil {
		return err
	}
	rows, cols := x.Dims()
	labels := make([]int, rows)
	cases := 0
	for i, b := range y {
		if b {
			labels[i] = 1
			cases++
		}
	}
	values := make([]int, rows)
	cs.importances = make([]float64, cols)
	if cases == 0 || cases == rows {
		// no association with a constant outcome
		return nil
	}
	for j := range cs.importances {
		for i := range values {
			values[i] = int(math.Round(x.At(i, j)))
		}
		cs.importances[j] = CramersV(labels, values)
	}
	return nil
}

func (cs *CramersVScreen) FeatureImportances() []float64 {
	return cs.importances
}
