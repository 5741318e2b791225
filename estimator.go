// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package asaph

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Estimator is a model trained on a feature matrix (one row per
// individual) and binary outcomes, reporting one importance value per
// column.
type Estimator interface {
	Fit(x mat.Matrix, y []bool) error
	FeatureImportances() []float64
}

// Classifier is an Estimator that can also predict outcome
// probabilities.
type Classifier interface {
	Estimator
	PredictProba(x mat.Matrix) ([]float64, error)
}

// EstimatorFactory returns a new untrained estimator using the given
// random source.
type EstimatorFactory func(rnd *rand.Rand) Estimator

// EstimatorConfig holds command line settings for all estimator
// kinds.
type EstimatorConfig struct {
	Kind          string
	L2            float64
	PCAComponents int
}

func (cfg EstimatorConfig) Factory() (EstimatorFactory, error) {
	switch cfg.Kind {
	case "logistic":
		return func(*rand.Rand) Estimator { return &LogisticRegression{L2: cfg.L2} }, nil
	case "chi2":
		return func(*rand.Rand) Estimator { return &ChiSquareScreen{} }, nil
	case "glm":
		return func(*rand.Rand) Estimator { return &GLMScreen{PCAComponents: cfg.PCAComponents} }, nil
	case "cramers-v":
		return func(*rand.Rand) Estimator { return &CramersVScreen{} }, nil
	default:
		return nil, fmt.Errorf("unknown estimator %q (expected logistic, chi2, glm, or cramers-v)", cfg.Kind)
	}
}

var errNotFitted = errors.New("estimator has not been fitted")

func checkOutcomes(x mat.Matrix, y []bool) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("%d outcomes for %d rows", len(y), rows)
	}
	return nil
}

// LogisticRegression is an L2-regularized logistic regression fitted
// by the statmodel GLM coordinate descent solver. Its importances are
// the coefficients divided by their Euclidean norm.
type LogisticRegression struct {
	// Penalty weight per observation, applied to every coefficient
	// including the intercept.
	L2 float64

	coef      []float64
	intercept float64
}

func (lr *LogisticRegression) Fit(x mat.Matrix, y []bool) (err error) {
	if err := checkOutcomes(x, y); err != nil {
		return err
	}
	rows, cols := x.Dims()
	l2 := lr.L2
	if l2 <= 0 {
		l2 = 1e-3
	}
	data := make([][]statmodel.Dtype, 0, cols+2)
	names := make([]string, 0, cols+2)
	data = append(data, boolSeries(y))
	names = append(names, "outcome")
	icept := make([]statmodel.Dtype, rows)
	for i := range icept {
		icept[i] = 1
	}
	data = append(data, icept)
	names = append(names, "intercept")
	for j := 0; j < cols; j++ {
		data = append(data, mat.Col(nil, j, x))
		names = append(names, fmt.Sprintf("x%d", j))
	}
	cfg := &glm.Config{
		Family: glm.NewFamily(glm.BinomialFamily),
		// All-zero L1 weights select the coordinate descent
		// solver, which does not need the full Hessian.
		L1Penalty: map[string]float64{},
		L2Penalty: map[string]float64{},
		Log:       log.New(io.Discard, "", 0),
	}
	for _, name := range names[1:] {
		cfg.L1Penalty[name] = 0
		cfg.L2Penalty[name] = l2
	}
	model, err := glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], cfg)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("logistic regression: %v", r)
		}
	}()
	params := model.Fit().Params()
	lr.intercept = params[0]
	lr.coef = append([]float64(nil), params[1:]...)
	return nil
}

func (lr *LogisticRegression) FeatureImportances() []float64 {
	imp := make([]float64, len(lr.coef))
	norm := floats.Norm(lr.coef, 2)
	if norm == 0 {
		return imp
	}
	floats.ScaleTo(imp, 1/norm, lr.coef)
	return imp
}

func (lr *LogisticRegression) PredictProba(x mat.Matrix) ([]float64, error) {
	if lr.coef == nil {
		return nil, errNotFitted
	}
	rows, cols := x.Dims()
	if cols != len(lr.coef) {
		return nil, fmt.Errorf("%w: %d columns, fitted with %d", ErrDimensionMismatch, cols, len(lr.coef))
	}
	row := make([]float64, cols)
	p := make([]float64, rows)
	for i := range p {
		mat.Row(row, i, x)
		p[i] = 1 / (1 + math.Exp(-floats.Dot(lr.coef, row)-lr.intercept))
	}
	return p, nil
}

// pvalueImportance converts a p-value to -log10(p), treating NaN as
// no association.
func pvalueImportance(p float64) float64 {
	if math.IsNaN(p) || p >= 1 {
		return 0
	}
	if p < 1e-300 {
		p = 1e-300
	}
	return -math.Log10(p)
}
