// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

func boolSeries(v []bool) []statmodel.Dtype {
	series := make([]statmodel.Dtype, len(v))
	for i, b := range v {
		if b {
			series[i] = 1
		}
	}
	return series
}

// glmPvalueFunc returns a function that computes the likelihood ratio
// test p-value for adding a variant indicator to a logistic regression
// of outcome on the given covariates (one slice per covariate, one
// value per row).
func glmPvalueFunc(outcome []bool, covariates [][]float64) func(onehot []bool) float64 {
	covNames := make([]string, 0, len(covariates))
	data := make([][]statmodel.Dtype, 0, len(covariates)+2)
	constants := make([]statmodel.Dtype, len(outcome))
	for i := range constants {
		constants[i] = 1
	}
	data = append(data, boolSeries(outcome), constants)
	for i, cov := range covariates {
		series := append([]statmodel.Dtype(nil), cov...)
		normalize(series)
		data = append(data, series)
		covNames = append(covNames, fmt.Sprintf("pca%d", i))
	}
	names := append([]string{"outcome", "constants"}, covNames...)
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		log.Printf("%s", err)
		return func([]bool) float64 { return math.NaN() }
	}
	logCov := model.Fit().LogLike()

	return func(onehot []bool) (p float64) {
		defer func() {
			if recover() != nil {
				// typically "matrix singular or near-singular with condition number +Inf"
				p = math.NaN()
			}
		}()
		data := append([][]statmodel.Dtype{data[0], boolSeries(onehot)}, data[1:]...)
		names := append([]string{"outcome", "variant"}, names[1:]...)
		dataset := statmodel.NewDataset(data, names)

		model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
		if err != nil {
			return math.NaN()
		}
		logComp := model.Fit().LogLike()
		dist := distuv.ChiSquared{K: 1}
		return dist.Survival(-2 * (logCov - logComp))
	}
}

// GLMScreen scores each column by -log10 of a logistic regression
// likelihood ratio test p-value, adjusting for the leading principal
// components of the training matrix.
type GLMScreen struct {
	PCAComponents int

	importances []float64
}

func (gs *GLMScreen) Fit(x mat.Matrix, y []bool) error {
	if err := checkOutcomes(x, y); err != nil {
		return err
	}
	_, cols := x.Dims()
	var covariates [][]float64
	if gs.PCAComponents > 0 {
		pcs, err := pcaComponents(x, gs.PCAComponents)
		if err != nil {
			return err
		}
		_, k := pcs.Dims()
		for j := 0; j < k; j++ {
			covariates = append(covariates, mat.Col(nil, j, pcs))
		}
	}
	pvalue := glmPvalueFunc(y, covariates)
	gs.importances = make([]float64, cols)
	for j := range gs.importances {
		gs.importances[j] = pvalueImportance(pvalue(columnOnehot(x, j)))
	}
	return nil
}

func (gs *GLMScreen) FeatureImportances() []float64 {
	return gs.importances
}
