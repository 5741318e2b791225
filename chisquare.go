// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1}

// pvalue returns the p-value of a chi-square test of independence
// between feature presence and case status, using the observed
// feature carriers only (1 degree of freedom).
func pvalue(present, cases []bool) float64 {
	var carriers, total [2]float64 // [case, control]
	for i, isCase := range cases {
		k := 1
		if isCase {
			k = 0
		}
		total[k]++
		if present[i] {
			carriers[k]++
		}
	}
	ncarriers := carriers[0] + carriers[1]
	if total[0] == 0 || total[1] == 0 || ncarriers == 0 {
		return 1
	}
	n := total[0] + total[1]
	stat := 0.0
	for k := range carriers {
		expected := ncarriers * total[k] / n
		d := carriers[k] - expected
		stat += d * d / expected
	}
	return chisquared.Survival(stat)
}

// columnOnehot returns, for each row, whether column j is non-zero.
func columnOnehot(x mat.Matrix, j int) []bool {
	rows, _ := x.Dims()
	onehot := make([]bool, rows)
	for i := range onehot {
		onehot[i] = x.At(i, j) != 0
	}
	return onehot
}

// ChiSquareScreen scores each column by -log10 of its chi-square
// association p-value.
type ChiSquareScreen struct {
	importances []float64
}

func (cs *ChiSquareScreen) Fit(x mat.Matrix, y []bool) error {
	if err := checkOutcomes(x, y); err != nil {
		return err
	}
	_, cols := x.Dims()
	cs.importances = make([]float64, cols)
	for j := range cs.importances {
		cs.importances[j] = pvalueImportance(pvalue(columnOnehot(x, j), y))
	}
	return nil
}

func (cs *ChiSquareScreen) FeatureImportances() []float64 {
	return cs.importances
}
